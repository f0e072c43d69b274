package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/wphospital/sprucepy/internal/core"
)

//go:embed templates/*.html
var templates embed.FS

var errorEmailTmpl = template.Must(template.ParseFS(templates, "templates/error_email.html"))

const (
	categoryError = "error"
	objectTask    = "task"

	startTimeFormat = "01/02/2006 15:04:05"
)

// RecipientSource fetches the notification list for a task and category.
type RecipientSource interface {
	Recipients(ctx context.Context, taskID, category string) ([]core.Recipient, error)
}

// FailureNotifierConfig configures failure notifications.
type FailureNotifierConfig struct {
	// AppURL is the base URL of the Spruce web UI, used for run/task links.
	AppURL string
	// DisplayLocation localizes the run start time in the message body.
	DisplayLocation *time.Location
}

// FailureNotifier sends the "your run failed" message over every channel a
// task's error subscribers asked for.
type FailureNotifier struct {
	cfg        FailureNotifierConfig
	recipients RecipientSource
	mailer     *Mailer
	sms        *SMSSender
	logger     *slog.Logger
}

func NewFailureNotifier(cfg FailureNotifierConfig, recipients RecipientSource, mailer *Mailer, sms *SMSSender, logger *slog.Logger) *FailureNotifier {
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}
	return &FailureNotifier{
		cfg:        cfg,
		recipients: recipients,
		mailer:     mailer,
		sms:        sms,
		logger:     logger,
	}
}

type errorEmailData struct {
	Task          string
	TaskStartTime string
	RunURL        string
	TaskURL       string
	Error         template.HTML
}

// NotifyFailure fans a failure message out to the task's error subscribers.
// With no subscribers it does nothing. An SMS delivery failure triggers a
// fallback email notice to the same email recipients instead of aborting.
func (n *FailureNotifier) NotifyFailure(ctx context.Context, taskID, runID string, startTime time.Time, errText string) error {
	recipients, err := n.recipients.Recipients(ctx, taskID, categoryError)
	if err != nil {
		return fmt.Errorf("fetch error recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil
	}

	emails := EmailsFrom(recipients)
	phones := PhonesFrom(recipients)

	taskTitle := recipients[0].TaskName
	started := startTime.In(n.cfg.DisplayLocation).Format(startTimeFormat)
	runURL := joinURL(n.cfg.AppURL, "tasks/runs/"+runID)
	taskURL := joinURL(n.cfg.AppURL, "tasks/"+taskID)

	body, err := renderErrorEmail(errorEmailData{
		Task:          taskTitle,
		TaskStartTime: started,
		RunURL:        runURL,
		TaskURL:       taskURL,
		Error:         htmlError(errText),
	})
	if err != nil {
		return fmt.Errorf("render failure email: %w", err)
	}

	if !emails.Empty() {
		n.mailer.Send(ctx, Message{
			Recipients: emails,
			Subject:    "Run Failure",
			HTMLBody:   body,
			RunID:      runID,
			Category:   categoryError,
			Object:     objectTask,
		})
	}

	if len(phones) > 0 {
		smsBody := fmt.Sprintf("Spruce Error in %s: %s: %s. %s", taskTitle, taskURL, runURL, started)
		if err := n.sms.Send(ctx, TextMessage{
			Phones:   phones,
			Body:     smsBody,
			RunID:    runID,
			Category: categoryError,
			Object:   objectTask,
		}); err != nil {
			n.logger.Warn("sms notification failed, falling back to email", "task_id", taskID, "err", err)
			if !emails.Empty() {
				n.mailer.Send(ctx, Message{
					Recipients: emails,
					Subject:    "Notification Failure",
					HTMLBody:   "SMS Failed to Send on Error",
					RunID:      runID,
					Category:   categoryError,
					Object:     objectTask,
				})
			}
		}
	}

	return nil
}

func renderErrorEmail(data errorEmailData) (string, error) {
	var buf bytes.Buffer
	if err := errorEmailTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// htmlError escapes the captured error text and converts newlines for HTML
// display.
func htmlError(errText string) template.HTML {
	escaped := template.HTMLEscapeString(errText)
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + path
}
