package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESClient is the part of *sesv2.Client the sender uses.
type SESClient interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESSender struct {
	client    SESClient
	fromEmail string
	fromName  string
}

type SESConfig struct {
	Region    string
	FromEmail string
	FromName  string
}

// NewSESClient loads credentials from the default AWS chain.
func NewSESClient(ctx context.Context, region string) (*sesv2.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: load aws config: %w", err)
	}
	return sesv2.NewFromConfig(awsCfg), nil
}

func NewSESSender(client SESClient, cfg SESConfig) *SESSender {
	return &SESSender{client: client, fromEmail: cfg.FromEmail, fromName: cfg.FromName}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	from := s.fromEmail
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}
	body := &types.Body{Text: utf8Content(msg.Body)}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: utf8Content(msg.Subject),
				Body:    body,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: ses send: %w", err)
	}
	return nil
}

func utf8Content(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}
