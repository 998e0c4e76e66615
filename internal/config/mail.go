package config

import (
	"errors"
	"strings"
)

// MailConfig describes how account emails leave the service.  SMTPHost empty
// means emails are only logged, which is what development runs use.
// AMQPURL empty means the dispatcher renders and sends in-process instead of
// going through the notifications queue.
type MailConfig struct {
	FromName     string
	FromAddress  string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPSecure   bool
	AMQPURL      string
	Queue        string
	RunConsumer  bool
}

// LoadMailConfig reads the SMTP and broker settings.  RABBITMQ_URL and
// AMQP_URL are both accepted for the broker address.
func LoadMailConfig() MailConfig {
	url := envStr("RABBITMQ_URL", envStr("AMQP_URL", ""))
	return MailConfig{
		FromName:     envStr("EMAIL_FROM_NAME", "Market Assistant"),
		FromAddress:  envStr("EMAIL_FROM", "noreply@marketassistant.com"),
		SMTPHost:     envStr("SMTP_HOST", ""),
		SMTPPort:     envInt("SMTP_PORT", 587),
		SMTPUser:     envStr("SMTP_USER", ""),
		SMTPPassword: envStr("SMTP_PASSWORD", ""),
		SMTPSecure:   envBool("SMTP_SECURE", false),
		AMQPURL:      strings.TrimSpace(url),
		Queue:        envStr("EMAIL_QUEUE", "notifications.email"),
		RunConsumer:  envBool("EMAIL_CONSUMER_ENABLED", true),
	}
}

// DeliversLocally reports whether this process renders and sends mail itself,
// either because there is no broker or because it runs the queue consumer.
func (c MailConfig) DeliversLocally() bool {
	return c.AMQPURL == "" || c.RunConsumer
}

// Validate rejects settings that would leave production without real email
// delivery.
func (c MailConfig) Validate(production bool) error {
	if production && c.DeliversLocally() && c.SMTPHost == "" {
		return errors.New("SMTP_HOST is required in production when this process delivers email")
	}
	return nil
}
