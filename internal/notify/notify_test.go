package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"gopkg.in/gomail.v2"

	"github.com/wphospital/sprucepy/internal/core"
	"github.com/wphospital/sprucepy/internal/spruceapi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(strings.Builder), nil))
}

type fakeDialer struct {
	sent    []*gomail.Message
	failFor string
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	for _, msg := range m {
		to := msg.GetHeader("To")
		if f.failFor != "" && len(to) > 0 && to[0] == f.failFor {
			return errors.New("mailbox unavailable")
		}
		f.sent = append(f.sent, msg)
	}
	return nil
}

type fakeRecorder struct {
	outcomes []spruceapi.Notification
}

func (f *fakeRecorder) PostNotification(_ context.Context, n spruceapi.Notification) error {
	f.outcomes = append(f.outcomes, n)
	return nil
}

type fakeRecipients struct {
	list []core.Recipient
}

func (f *fakeRecipients) Recipients(context.Context, string, string) ([]core.Recipient, error) {
	return f.list, nil
}

type fakeSecrets struct{}

func (fakeSecrets) SecretByKey(_ context.Context, key string) (string, error) {
	return "value-for-" + key, nil
}

type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, *in.PhoneNumber)
	return &sns.PublishOutput{}, nil
}

func newTestMailer(d *fakeDialer, rec *fakeRecorder) *Mailer {
	m := NewMailer(MailerConfig{Host: "relay.example.org", Port: 25, From: "noreply@wphospital.org"}, rec, discardLogger())
	m.dialer = d
	return m
}

func newTestSMS(pub *fakePublisher, rec *fakeRecorder) *SMSSender {
	s := NewSMSSender(SMSConfig{}, fakeSecrets{}, rec, discardLogger())
	s.newPublisher = func(context.Context, string, string, string) (snsPublisher, error) {
		return pub, nil
	}
	return s
}

func TestEmailsFromBucketsAndFilters(t *testing.T) {
	recipients := []core.Recipient{
		{Person: 1, Mode: "email", Email: "to@example.org", SendLine: "to"},
		{Person: 2, Mode: "email", Email: "cc@example.org", SendLine: "cc"},
		{Person: 3, Mode: "email", Email: "bcc@example.org", SendLine: "bcc"},
		{Person: 4, Mode: "email", Email: "testing@example.org", SendLine: "to", TaskTesting: true},
		{Person: 5, Mode: "email", Email: "tester@example.org", SendLine: "to", TaskTesting: true, SendTesting: true},
		{Person: 6, Mode: "sms", Phone: "9145550100"},
		{Person: 7, Mode: "email", Email: "", SendLine: "to"},
	}

	lines := EmailsFrom(recipients)
	if len(lines.To) != 2 || len(lines.Cc) != 1 || len(lines.Bcc) != 1 {
		t.Errorf("lines = %+v", lines)
	}
	for _, a := range lines.To {
		if a.Email == "testing@example.org" {
			t.Error("testing-only recipient leaked into production sends")
		}
	}

	phones := PhonesFrom(recipients)
	if len(phones) != 1 || phones[0].Number != "9145550100" {
		t.Errorf("phones = %+v", phones)
	}
}

func TestPhonesFromIgnoresTestingGate(t *testing.T) {
	recipients := []core.Recipient{
		{Person: 1, Mode: "sms", Phone: "9145550100", TaskTesting: true},
		{Person: 2, Mode: "sms", Phone: ""},
		{Person: 3, Mode: "email", Email: "someone@example.org", Phone: "9145550199"},
	}

	phones := PhonesFrom(recipients)
	if len(phones) != 1 {
		t.Fatalf("phones = %+v, want the testing-task recipient included", phones)
	}
	if phones[0].Person != 1 || phones[0].Number != "9145550100" {
		t.Errorf("phones[0] = %+v", phones[0])
	}
}

func TestMailerRecordsOutcomePerRecipient(t *testing.T) {
	dialer := &fakeDialer{failFor: "bad@example.org"}
	rec := &fakeRecorder{}
	mailer := newTestMailer(dialer, rec)

	mailer.Send(context.Background(), Message{
		Recipients: EmailLines{To: []Address{
			{Person: 1, Email: "good@example.org"},
			{Person: 2, Email: "bad@example.org"},
		}},
		Subject:  "Run Failure",
		HTMLBody: "<p>boom</p>",
		RunID:    "42",
		Category: "error",
		Object:   "task",
	})

	if len(dialer.sent) != 1 {
		t.Errorf("expected 1 delivered message, got %d", len(dialer.sent))
	}
	if len(rec.outcomes) != 2 {
		t.Fatalf("expected 2 outcome records, got %d", len(rec.outcomes))
	}
	byPerson := map[int]spruceapi.Notification{}
	for _, o := range rec.outcomes {
		byPerson[o.Person] = o
	}
	if byPerson[1].ReturnCode != 0 {
		t.Errorf("good recipient outcome = %+v", byPerson[1])
	}
	if byPerson[2].ReturnCode != 1 || byPerson[2].ErrorText == "" {
		t.Errorf("bad recipient outcome = %+v", byPerson[2])
	}
}

func TestMailerTagsSubject(t *testing.T) {
	dialer := &fakeDialer{}
	mailer := newTestMailer(dialer, &fakeRecorder{})

	mailer.Send(context.Background(), Message{
		Recipients: EmailLines{To: []Address{{Person: 1, Email: "a@example.org"}}},
		Subject:    "Run Failure",
	})

	if len(dialer.sent) != 1 {
		t.Fatalf("expected 1 message")
	}
	subject := dialer.sent[0].GetHeader("Subject")
	if len(subject) != 1 || !strings.HasPrefix(subject[0], "[Data Bot]") {
		t.Errorf("subject = %v", subject)
	}
}

func TestSMSSenderPublishesWithCountryPrefix(t *testing.T) {
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	sender := newTestSMS(pub, rec)

	err := sender.Send(context.Background(), TextMessage{
		Phones: []Phone{{Person: 1, Number: "9145550100"}},
		Body:   "Spruce Error in Nightly",
		RunID:  "42",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(pub.published) != 1 || pub.published[0] != "+19145550100" {
		t.Errorf("published = %v", pub.published)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0].Mode != "sms" || rec.outcomes[0].ReturnCode != 0 {
		t.Errorf("outcomes = %+v", rec.outcomes)
	}
}

func TestNotifyFailureNoRecipientsIsNoOp(t *testing.T) {
	dialer := &fakeDialer{}
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	notifier := NewFailureNotifier(
		FailureNotifierConfig{AppURL: "https://spruce.example.org"},
		&fakeRecipients{},
		newTestMailer(dialer, rec),
		newTestSMS(pub, rec),
		discardLogger(),
	)

	err := notifier.NotifyFailure(context.Background(), "7", "42", time.Now(), "boom")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(dialer.sent) != 0 || len(pub.published) != 0 {
		t.Errorf("expected zero deliveries, got %d emails and %d sms", len(dialer.sent), len(pub.published))
	}
}

func TestNotifyFailureSMSFallsBackToEmail(t *testing.T) {
	dialer := &fakeDialer{}
	pub := &fakePublisher{err: errors.New("sns unavailable")}
	rec := &fakeRecorder{}
	notifier := NewFailureNotifier(
		FailureNotifierConfig{AppURL: "https://spruce.example.org"},
		&fakeRecipients{list: []core.Recipient{
			{Person: 1, Mode: "email", Email: "oncall@example.org", SendLine: "to", TaskName: "Nightly"},
			{Person: 2, Mode: "sms", Phone: "9145550100", TaskName: "Nightly"},
		}},
		newTestMailer(dialer, rec),
		newTestSMS(pub, rec),
		discardLogger(),
	)

	err := notifier.NotifyFailure(context.Background(), "7", "42", time.Now(), "line one\nline two")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	// The failure email plus the SMS-fallback notice.
	if len(dialer.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(dialer.sent))
	}
}

func TestHTMLErrorConvertsNewlinesAndEscapes(t *testing.T) {
	got := string(htmlError("first\n<second>"))
	if !strings.Contains(got, "first<br>") {
		t.Errorf("newline not converted: %q", got)
	}
	if strings.Contains(got, "<second>") {
		t.Errorf("markup not escaped: %q", got)
	}
}
