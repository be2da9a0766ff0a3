package alert

import (
	"context"
	"fmt"
	"os"

	"github.com/wneessen/go-mail"
)

// MailConfig holds SMTP settings. The default port 465 uses implicit TLS.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// To defaults to From when empty.
	To []string
}

const (
	mailSubject = "Intruder Detected!"
	mailBody    = "An unrecognized person was detected. See attached image."
)

// MailSender delivers a built message.
type MailSender func(ctx context.Context, msg *mail.Msg) error

// MailChannel emails the captured image to the operators.
type MailChannel struct {
	cfg  MailConfig
	send MailSender
}

var _ Channel = (*MailChannel)(nil)

// NewMailChannel returns a channel that sends over SMTP with implicit TLS.
func NewMailChannel(cfg MailConfig) *MailChannel {
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	if len(cfg.To) == 0 && cfg.From != "" {
		cfg.To = []string{cfg.From}
	}
	c := &MailChannel{cfg: cfg}
	c.send = c.dialAndSend
	return c
}

// WithSender replaces SMTP delivery.
func (c *MailChannel) WithSender(send MailSender) *MailChannel {
	c.send = send
	return c
}

func (c *MailChannel) Name() string { return "mail" }

func (c *MailChannel) Configured() bool {
	return c.cfg.Host != "" && c.cfg.From != "" && c.cfg.Password != ""
}

func (c *MailChannel) Send(ctx context.Context, a Alert) error {
	msg, err := c.message(a)
	if err != nil {
		return err
	}
	return c.send(ctx, msg)
}

func (c *MailChannel) message(a Alert) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(c.cfg.From); err != nil {
		return nil, fmt.Errorf("mail from: %w", err)
	}
	if err := msg.To(c.cfg.To...); err != nil {
		return nil, fmt.Errorf("mail to: %w", err)
	}
	msg.Subject(mailSubject)

	body := mailBody
	if a.Identity != "" {
		body += fmt.Sprintf("\n\nClosest match: %s (distance %.2f)", a.Identity, a.Score)
	}
	if !a.DetectedAt.IsZero() {
		body += "\nDetected at: " + a.DetectedAt.Format("2006-01-02 15:04:05")
	}
	msg.SetBodyString(mail.TypeTextPlain, body)
	if a.ImagePath != "" {
		// AttachFile drops paths it cannot open without reporting it.
		if _, err := os.Stat(a.ImagePath); err != nil {
			return nil, fmt.Errorf("mail attachment: %w", err)
		}
		msg.AttachFile(a.ImagePath)
		if len(msg.GetAttachments()) == 0 {
			return nil, fmt.Errorf("mail attachment: %s not attached", a.ImagePath)
		}
	}
	return msg, nil
}

func (c *MailChannel) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	username := c.cfg.Username
	if username == "" {
		username = c.cfg.From
	}
	client, err := mail.NewClient(c.cfg.Host,
		mail.WithPort(c.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(username),
		mail.WithPassword(c.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail send: %w", err)
	}
	return nil
}
