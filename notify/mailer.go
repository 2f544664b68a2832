package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lexdesk/claims_backend/claims"
	"github.com/lexdesk/claims_backend/models"
	"github.com/lexdesk/claims_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

var ErrNoStaffRecipients = errors.New("MAIL_STAFF_TO is not configured")

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// StaffTo receives new-claim alerts.
	StaffTo []string
	// Office signs client mails.
	Office string
}

func MailConfigFromEnv() MailConfig {
	port, err := strconv.Atoi(strings.TrimSpace(os.Getenv("MAIL_PORT")))
	if err != nil || port <= 0 {
		port = 587
	}
	office := strings.TrimSpace(os.Getenv("MAIL_OFFICE_NAME"))
	if office == "" {
		office = "The legal office team"
	}
	return MailConfig{
		Host:     strings.TrimSpace(os.Getenv("MAIL_HOST")),
		Port:     port,
		Username: strings.TrimSpace(os.Getenv("MAIL_USER")),
		Password: os.Getenv("MAIL_PASS"),
		From:     strings.TrimSpace(os.Getenv("MAIL_FROM")),
		StaffTo:  utils.UniqueSlice(utils.SplitAndTrim(os.Getenv("MAIL_STAFF_TO"))),
		Office:   office,
	}
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer delivers notifications over SMTP.
type Mailer struct {
	cfg    MailConfig
	client sender
	logger *logrus.Logger
}

func NewMailer(cfg MailConfig, logger *logrus.Logger) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("MAIL_HOST is required")
	}
	if cfg.From == "" {
		return nil, errors.New("MAIL_FROM is required")
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &Mailer{cfg: cfg, client: client, logger: logger}, nil
}

// Send renders msg into a MIME message and delivers it.
func (m *Mailer) Send(ctx context.Context, msg *Message) error {
	if len(msg.To) == 0 {
		return errors.New("message has no recipients")
	}
	out := mail.NewMsg()
	if err := out.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid MAIL_FROM: %w", err)
	}
	if err := out.To(msg.To...); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(mail.TypeTextHTML, msg.HTML)

	if err := m.client.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"subject":    msg.Subject,
			"recipients": len(msg.To),
		}).Info("[notify.mail.sent]")
	}
	return nil
}

func (m *Mailer) NotifyIntakeClient(ctx context.Context, email, fullName, trackingCode string) error {
	msg, err := IntakeClientMessage(m.cfg.Office, email, fullName, trackingCode)
	if err != nil {
		return err
	}
	return m.Send(ctx, msg)
}

func (m *Mailer) NotifyIntakeStaff(ctx context.Context, details claims.IntakeDetails) error {
	if len(m.cfg.StaffTo) == 0 {
		return ErrNoStaffRecipients
	}
	msg, err := IntakeStaffMessage(m.cfg.StaffTo, details)
	if err != nil {
		return err
	}
	return m.Send(ctx, msg)
}

func (m *Mailer) NotifyStatusChange(ctx context.Context, email, fullName string, status models.ClaimStatus) error {
	msg, err := StatusChangeMessage(email, fullName, status)
	if err != nil {
		return err
	}
	return m.Send(ctx, msg)
}
