package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
)

// EmailNotifier renders booking confirmations and hands them to an EmailSender.
type EmailNotifier struct {
	sender      EmailSender
	frontendURL string
}

var _ booking.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(sender EmailSender, frontendURL string) *EmailNotifier {
	return &EmailNotifier{sender: sender, frontendURL: strings.TrimRight(strings.TrimSpace(frontendURL), "/")}
}

func (n *EmailNotifier) SendAppointmentConfirmation(ctx context.Context, c booking.Confirmation) error {
	return n.sender.Send(ctx, EmailMessage{
		To:      c.To,
		ToName:  c.ClientName,
		Subject: fmt.Sprintf("Appointment with %s on %s at %s", c.ProviderName, c.Date, c.Time),
		Body:    n.body(c),
	})
}

func (n *EmailNotifier) body(c booking.Confirmation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", c.ClientName)
	fmt.Fprintf(&b, "Your appointment with %s is booked for %s at %s (%d minutes).\n", c.ProviderName, c.Date, c.Time, c.Duration)
	if c.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", c.Location)
	}
	if link := n.ConfirmLink(c.PublicToken); link != "" {
		fmt.Fprintf(&b, "\nView or cancel your appointment: %s\n", link)
	}
	return b.String()
}

// ConfirmLink is the page a public booker uses to manage the appointment. Empty without a token.
func (n *EmailNotifier) ConfirmLink(token string) string {
	if token == "" {
		return ""
	}
	return n.frontendURL + "/confirm/" + url.PathEscape(token)
}

type SenderConfig struct {
	Provider string // smtp, sendgrid, ses or stub
	From     string
	FromName string
	SMTP     SMTPConfig
	SendGrid string // API key
	Region   string
}

// NewSender builds the EmailSender selected by cfg.Provider.
func NewSender(ctx context.Context, cfg SenderConfig, logger *slog.Logger) (EmailSender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "stub":
		return NewStubSender(logger), nil
	case "smtp":
		smtpCfg := cfg.SMTP
		smtpCfg.From = cfg.From
		return NewSMTPSender(smtpCfg), nil
	case "sendgrid":
		s, err := NewSendGridSender(SendGridConfig{APIKey: cfg.SendGrid, FromEmail: cfg.From, FromName: cfg.FromName})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "ses":
		client, err := NewSESClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return NewSESSender(client, SESConfig{Region: cfg.Region, FromEmail: cfg.From, FromName: cfg.FromName}), nil
	default:
		return nil, fmt.Errorf("notify: unknown email provider %q", cfg.Provider)
	}
}
