package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/openbooks/ledgercore/src/config"
	"github.com/openbooks/ledgercore/src/logger"
)

// NewAlertService picks the alert delivery backend from configuration.
// Incomplete mailgun configuration degrades to the log backend rather than
// failing startup.
func NewAlertService() AlertSender {
	provider := strings.ToLower(config.Cfg.AlertProvider)
	logger.L.Info("Initializing alert service", "provider", provider)

	switch provider {
	case "mailgun":
		if config.Cfg.MailgunDomain == "" || config.Cfg.MailgunPrivateAPIKey == "" || config.Cfg.AlertRecipient == "" {
			logger.L.Warn("Mailgun configuration incomplete (Domain, API Key, or Recipient missing). Falling back to log alerts.")
			return &LogAlertService{}
		}
		mg := mailgun.NewMailgun(config.Cfg.MailgunDomain, config.Cfg.MailgunPrivateAPIKey)
		logger.L.Info("Mailgun client initialized", "domain", config.Cfg.MailgunDomain)
		return &MailgunAlertService{
			mg:        mg,
			sender:    config.Cfg.AlertSender,
			recipient: config.Cfg.AlertRecipient,
		}
	default:
		return &LogAlertService{}
	}
}

// MailgunAlertService delivers escalation notices by email.
type MailgunAlertService struct {
	mg        *mailgun.MailgunImpl
	sender    string
	recipient string
}

func (s *MailgunAlertService) SendAlert(ctx context.Context, subject, body string) error {
	from := fmt.Sprintf("Ledger Alerts <%s>", s.sender)
	message := s.mg.NewMessage(from, subject, body, s.recipient)
	sendCtx, cancel := context.WithTimeout(ctx, time.Second*20)
	defer cancel()
	resp, id, err := s.mg.Send(sendCtx, message)
	if err != nil {
		logger.L.Error("Failed to send alert via Mailgun", "error", err, "subject", subject, "mailgunResp", resp, "mailgunId", id)
		return fmt.Errorf("mailgun send failed: %w", err)
	}
	logger.L.Info("Alert sent via Mailgun", "subject", subject, "id", id)
	return nil
}

// LogAlertService writes alerts to the structured log. Default backend and
// the fallback when mail delivery is not configured.
type LogAlertService struct{}

func (s *LogAlertService) SendAlert(ctx context.Context, subject, body string) error {
	logger.L.Warn("ALERT", "subject", subject, "body", body)
	return nil
}
