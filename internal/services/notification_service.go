package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

// Notifier tells account owners about lock state changes. Every method is
// advisory: callers log and drop the error.
type Notifier interface {
	NotifyAccountLocked(ctx context.Context, user *models.User, status models.LockoutStatus) error
	NotifyAccountUnlocked(ctx context.Context, user *models.User) error
}

// NoopNotifier is used when no sender address is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyAccountLocked(context.Context, *models.User, models.LockoutStatus) error {
	return nil
}

func (NoopNotifier) NotifyAccountUnlocked(context.Context, *models.User) error { return nil }

// sesSender is the subset of *ses.Client the notifier uses.
type sesSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends plain-text security notices through AWS SES.
type SESNotifier struct {
	client         sesSender
	fromAddress    string
	supportAddress string
	logger         *slog.Logger
}

func NewSESNotifier(ctx context.Context, region, fromAddress, supportAddress string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		client:         ses.NewFromConfig(cfg),
		fromAddress:    fromAddress,
		supportAddress: supportAddress,
		logger:         logger,
	}, nil
}

func (n *SESNotifier) NotifyAccountLocked(ctx context.Context, user *models.User, status models.LockoutStatus) error {
	var body string
	if status.IsAdminLocked {
		body = "Your account has been locked by an administrator.\n\n" + n.contactLine()
	} else {
		body = "Your account has been temporarily locked after repeated failed sign-in attempts.\n"
		if status.LockoutExpiresAt != nil {
			body += fmt.Sprintf("You can try again after %s.\n", status.LockoutExpiresAt.UTC().Format(time.RFC1123))
		}
		body += "\nIf this was not you, consider changing your password. " + n.contactLine()
	}

	return n.send(ctx, user.Email, "Your account has been locked", body)
}

func (n *SESNotifier) NotifyAccountUnlocked(ctx context.Context, user *models.User) error {
	body := "Your account has been unlocked by an administrator and you can sign in again.\n\n" + n.contactLine()
	return n.send(ctx, user.Email, "Your account has been unlocked", body)
}

func (n *SESNotifier) contactLine() string {
	if n.supportAddress == "" {
		return "Please contact support if you have questions."
	}
	return fmt.Sprintf("Please contact %s if you have questions.", n.supportAddress)
}

func (n *SESNotifier) send(ctx context.Context, to, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.InfoContext(ctx, "security notice sent",
		slog.String("email", logger.SanitizedEmail(to)),
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
