package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/wphospital/sprucepy/internal/metrics"
	"github.com/wphospital/sprucepy/internal/spruceapi"
)

const (
	awsAccessKeySecret = "aws_access_key_id"
	awsSecretKeySecret = "aws_secret_access_key"
)

// SecretSource resolves secret values from the coordination API's vault.
type SecretSource interface {
	SecretByKey(ctx context.Context, key string) (string, error)
}

// snsPublisher is the slice of the SNS client the sender depends on.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSConfig holds SNS broker settings.
type SMSConfig struct {
	Region string
}

// SMSSender delivers text messages through AWS SNS, with the broker
// credentials pulled from the secret vault at send time.
type SMSSender struct {
	cfg      SMSConfig
	secrets  SecretSource
	recorder OutcomeRecorder
	logger   *slog.Logger

	// newPublisher is swapped by tests.
	newPublisher func(ctx context.Context, region, keyID, secret string) (snsPublisher, error)
}

func NewSMSSender(cfg SMSConfig, secrets SecretSource, recorder OutcomeRecorder, logger *slog.Logger) *SMSSender {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &SMSSender{
		cfg:          cfg,
		secrets:      secrets,
		recorder:     recorder,
		logger:       logger,
		newPublisher: newSNSClient,
	}
}

func newSNSClient(ctx context.Context, region, keyID, secret string) (snsPublisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(keyID, secret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sns.NewFromConfig(awsCfg), nil
}

// TextMessage is one SMS to deliver to a list of phones.
type TextMessage struct {
	Phones []Phone
	Body   string

	RunID    string
	Category string
	Object   string
}

// Send publishes the message to every phone. The first hard failure
// (credentials, broker construction, publish) is returned so the caller can
// fall back to email; partial publish failures are recorded per recipient.
func (s *SMSSender) Send(ctx context.Context, msg TextMessage) error {
	if len(msg.Phones) == 0 {
		return nil
	}

	keyID, err := s.secrets.SecretByKey(ctx, awsAccessKeySecret)
	if err != nil {
		return fmt.Errorf("resolve sms broker key: %w", err)
	}
	secret, err := s.secrets.SecretByKey(ctx, awsSecretKeySecret)
	if err != nil {
		return fmt.Errorf("resolve sms broker secret: %w", err)
	}

	client, err := s.newPublisher(ctx, s.cfg.Region, keyID, secret)
	if err != nil {
		return err
	}

	var firstErr error
	for _, phone := range msg.Phones {
		outcome := spruceapi.Notification{
			Run:      msg.RunID,
			Person:   phone.Person,
			Category: msg.Category,
			Object:   msg.Object,
			Mode:     "sms",
			Body:     msg.Body,
		}

		_, err := client.Publish(ctx, &sns.PublishInput{
			PhoneNumber: aws.String("+1" + phone.Number),
			Message:     aws.String(msg.Body),
		})
		if err != nil {
			s.logger.Warn("sms delivery failed", "person", phone.Person, "err", err)
			metrics.NotificationsTotal.WithLabelValues("sms", "error").Inc()
			outcome.ReturnCode = 1
			outcome.ErrorText = err.Error()
			if firstErr == nil {
				firstErr = err
			}
		} else {
			metrics.NotificationsTotal.WithLabelValues("sms", "sent").Inc()
		}

		if recErr := s.recorder.PostNotification(ctx, outcome); recErr != nil {
			s.logger.Warn("recording sms outcome failed", "person", phone.Person, "err", recErr)
		}
	}
	return firstErr
}
