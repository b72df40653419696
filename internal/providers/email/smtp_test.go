package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingProvider(sendErr error) (*SMTPProvider, *capturedMail) {
	captured := &capturedMail{}
	p := NewSMTP(Config{Host: "smtp.local", Port: 2525, From: "billing@callsight.io"})
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		captured.addr = addr
		captured.from = from
		captured.to = to
		captured.msg = string(msg)
		return sendErr
	}
	return p, captured
}

func TestSendBuildsMessage(t *testing.T) {
	p, captured := newCapturingProvider(nil)

	id, err := p.Send(context.Background(), []string{"asha@example.com"}, "Your receipt\r\nBcc: x", "<p>hi</p>")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(id, "@callsight.io>"))
	assert.Equal(t, "smtp.local:2525", captured.addr)
	assert.Contains(t, captured.msg, "Message-ID: "+id)
	assert.Contains(t, captured.msg, "Subject: Your receipt  Bcc: x\r\n")
	assert.True(t, strings.HasSuffix(captured.msg, "<p>hi</p>"))
}

func TestSendRequiresRecipients(t *testing.T) {
	p, _ := newCapturingProvider(nil)
	_, err := p.Send(context.Background(), nil, "s", "b")
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestSendWrapsTransportError(t *testing.T) {
	boom := errors.New("connection refused")
	p, _ := newCapturingProvider(boom)
	_, err := p.Send(context.Background(), []string{"a@example.com"}, "s", "b")
	assert.ErrorIs(t, err, boom)
}

func TestSendTemplateInvite(t *testing.T) {
	p, captured := newCapturingProvider(nil)

	_, err := p.SendTemplate(context.Background(), []string{"new@example.com"}, "invite_member", map[string]any{
		"org_name":      "Acme",
		"inviter_email": "owner@example.com",
		"role":          "MEMBER",
		"invite_url":    "https://app.example.com/invite?token=abc",
		"expires_at":    "09 Jan 2026",
	})
	require.NoError(t, err)
	assert.Contains(t, captured.msg, "Subject: You're invited to join Acme")
	assert.Contains(t, captured.msg, "https://app.example.com/invite?token=abc")
}
