package notify

import (
	"context"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/wphospital/sprucepy/internal/metrics"
	"github.com/wphospital/sprucepy/internal/spruceapi"
)

const subjectTag = "[Data Bot]"

// OutcomeRecorder posts per-recipient delivery outcomes to the coordination
// API.
type OutcomeRecorder interface {
	PostNotification(ctx context.Context, n spruceapi.Notification) error
}

// mailDialer is the slice of gomail.Dialer the mailer depends on.
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailerConfig holds SMTP relay settings.
type MailerConfig struct {
	Host string
	Port int
	From string
}

// Mailer sends HTML email through an SMTP relay, one message per recipient,
// and records each attempt with the coordination API.
type Mailer struct {
	cfg      MailerConfig
	dialer   mailDialer
	recorder OutcomeRecorder
	logger   *slog.Logger
}

func NewMailer(cfg MailerConfig, recorder OutcomeRecorder, logger *slog.Logger) *Mailer {
	return &Mailer{
		cfg:      cfg,
		dialer:   &gomail.Dialer{Host: cfg.Host, Port: cfg.Port},
		recorder: recorder,
		logger:   logger,
	}
}

// Message is one email to deliver.
type Message struct {
	Recipients EmailLines
	Subject    string
	HTMLBody   string

	// Run metadata for the outcome record.
	RunID    string
	Category string
	Object   string
}

// Send delivers the message to every address on every line. Each recipient
// gets their own SMTP transaction so one bad mailbox cannot block the rest,
// and each attempt is recorded, success or error, never silently dropped.
func (m *Mailer) Send(ctx context.Context, msg Message) {
	subject := msg.Subject
	if !strings.Contains(subject, subjectTag) {
		subject = subjectTag + " " + subject
	}

	for _, addr := range msg.Recipients.All() {
		mail := gomail.NewMessage()
		mail.SetHeader("From", m.cfg.From)
		mail.SetHeader("To", addr.Email)
		mail.SetHeader("Subject", subject)
		mail.SetBody("text/html", msg.HTMLBody)

		outcome := spruceapi.Notification{
			Run:      msg.RunID,
			Person:   addr.Person,
			Category: msg.Category,
			Object:   msg.Object,
			Mode:     "email",
			Body:     msg.HTMLBody,
		}

		if err := m.dialer.DialAndSend(mail); err != nil {
			m.logger.Warn("email delivery failed", "to", addr.Email, "err", err)
			metrics.NotificationsTotal.WithLabelValues("email", "error").Inc()
			outcome.ReturnCode = 1
			outcome.ErrorText = err.Error()
		} else {
			metrics.NotificationsTotal.WithLabelValues("email", "sent").Inc()
		}

		if err := m.recorder.PostNotification(ctx, outcome); err != nil {
			m.logger.Warn("recording notification outcome failed", "person", addr.Person, "err", err)
		}
	}
}
