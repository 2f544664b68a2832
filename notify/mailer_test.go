package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/lexdesk/claims_backend/claims"
	"github.com/lexdesk/claims_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type fakeSender struct {
	sent []*mail.Msg
	err  error
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

func newTestMailer(s sender, staff ...string) *Mailer {
	return &Mailer{
		cfg:    MailConfig{From: "claims@office.test", StaffTo: staff, Office: "Office"},
		client: s,
	}
}

func TestMailerSendsEachNotification(t *testing.T) {
	s := &fakeSender{}
	m := newTestMailer(s, "staff@office.test")
	ctx := context.Background()

	require.NoError(t, m.NotifyIntakeClient(ctx, "ana@example.com", "Ana", "A4F8B1"))
	require.NoError(t, m.NotifyIntakeStaff(ctx, claims.IntakeDetails{FullName: "Ana", TrackingCode: "A4F8B1"}))
	require.NoError(t, m.NotifyStatusChange(ctx, "ana@example.com", "Ana", models.ClaimStatusFinalized))
	require.Len(t, s.sent, 3)

	rcpts, err := s.sent[1].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"staff@office.test"}, rcpts)
}

func TestMailerStaffRecipientsRequired(t *testing.T) {
	m := newTestMailer(&fakeSender{})
	err := m.NotifyIntakeStaff(context.Background(), claims.IntakeDetails{TrackingCode: "A4F8B1"})
	assert.ErrorIs(t, err, ErrNoStaffRecipients)
}

func TestMailerPropagatesSMTPErrors(t *testing.T) {
	boom := errors.New("421 service not available")
	m := newTestMailer(&fakeSender{err: boom})
	err := m.NotifyIntakeClient(context.Background(), "ana@example.com", "Ana", "A4F8B1")
	assert.ErrorIs(t, err, boom)
}

func TestMailerRejectsBadRecipient(t *testing.T) {
	s := &fakeSender{}
	m := newTestMailer(s)
	err := m.NotifyIntakeClient(context.Background(), "not an address", "Ana", "A4F8B1")
	assert.Error(t, err)
	assert.Empty(t, s.sent)
}

func TestMailConfigFromEnv(t *testing.T) {
	t.Setenv("MAIL_HOST", "smtp.office.test")
	t.Setenv("MAIL_PORT", "2525")
	t.Setenv("MAIL_FROM", "claims@office.test")
	t.Setenv("MAIL_STAFF_TO", " a@office.test, ,b@office.test ")
	t.Setenv("MAIL_OFFICE_NAME", "")

	cfg := MailConfigFromEnv()
	assert.Equal(t, "smtp.office.test", cfg.Host)
	assert.Equal(t, 2525, cfg.Port)
	assert.Equal(t, []string{"a@office.test", "b@office.test"}, cfg.StaffTo)
	assert.NotEmpty(t, cfg.Office)

	t.Setenv("MAIL_PORT", "abc")
	assert.Equal(t, 587, MailConfigFromEnv().Port)
}

func TestNewMailerRequiresHostAndFrom(t *testing.T) {
	_, err := NewMailer(MailConfig{From: "a@b.test"}, nil)
	assert.Error(t, err)
	_, err = NewMailer(MailConfig{Host: "smtp.test"}, nil)
	assert.Error(t, err)
	m, err := NewMailer(MailConfig{Host: "smtp.test", Port: 25, From: "a@b.test"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
