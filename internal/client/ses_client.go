package client

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"portal-auth/internal/config"
)

// SESClient wraps the AWS SES v2 API used for transactional mail.
type SESClient struct {
	client *sesv2.Client
	sender string
	logger *zap.Logger
}

func NewSESClient(cfg *config.Config, logger *zap.Logger) (*SESClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Mail.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("SES client initialized",
		zap.String("region", cfg.Mail.Region),
		zap.String("sender", cfg.Mail.Sender),
	)

	return &SESClient{
		client: sesv2.NewFromConfig(awsCfg),
		sender: cfg.Mail.Sender,
		logger: logger,
	}, nil
}

// SendHTML dispatches a single HTML email through SES.
func (s *SESClient) SendHTML(ctx context.Context, recipient, subject, bodyHTML string) error {
	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(bodyHTML)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Debug("Email dispatched via SES",
		zap.String("recipient", recipient),
		zap.Stringp("message_id", out.MessageId),
	)
	return nil
}
