package services

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ecclesia-org/ecclesia/internal/config"
)

type fakeRelay struct {
	calls int
	addr  string
	from  string
	to    []string
	msg   string
	err   error
}

func (f *fakeRelay) send(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
	f.calls++
	f.addr, f.from, f.to, f.msg = addr, from, to, string(msg)
	return f.err
}

func newTestSMTP(relay *fakeRelay) *SMTPNotifier {
	n := NewSMTPNotifier(config.SMTPConfig{Host: "mail.example.org", Port: 2525, From: "office@example.org"})
	n.send = relay.send
	n.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	return n
}

func TestNewNotifier(t *testing.T) {
	assert.IsType(t, LogNotifier{}, NewNotifier(config.SMTPConfig{}))
	assert.IsType(t, &SMTPNotifier{}, NewNotifier(config.SMTPConfig{Host: "mail.example.org"}))
	assert.NoError(t, LogNotifier{}.Notify(context.Background(), "a@example.org", "hi", "body"))
}

func TestSMTPNotifier_Notify(t *testing.T) {
	relay := &fakeRelay{}
	n := newTestSMTP(relay)

	err := n.Notify(context.Background(), "member@example.org", "Welcome", "line one\nline two")
	require.NoError(t, err)

	assert.Equal(t, "mail.example.org:2525", relay.addr)
	assert.Equal(t, "office@example.org", relay.from)
	assert.Equal(t, []string{"member@example.org"}, relay.to)
	assert.Contains(t, relay.msg, "Subject: Welcome\r\n")
	assert.Contains(t, relay.msg, "To: member@example.org\r\n")
	assert.Contains(t, relay.msg, "\r\n\r\nline one\r\nline two")
}

func TestSMTPNotifier_HeaderInjection(t *testing.T) {
	relay := &fakeRelay{}
	n := newTestSMTP(relay)

	err := n.Notify(context.Background(), "member@example.org", "Hello\r\nBcc: everyone@example.org", "body")
	require.NoError(t, err)
	assert.NotContains(t, relay.msg, "\r\nBcc:")
	assert.Contains(t, relay.msg, "Subject: HelloBcc: everyone@example.org\r\n")

	assert.Error(t, n.Notify(context.Background(), "\r\n", "s", "b"))
	assert.Equal(t, 1, relay.calls)
}

func TestSMTPNotifier_BreakerOpens(t *testing.T) {
	relay := &fakeRelay{err: errors.New("connection refused")}
	n := newTestSMTP(relay)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.Error(t, n.Notify(ctx, "member@example.org", "s", "b"))
	}
	assert.Equal(t, 5, relay.calls)

	err := n.Notify(ctx, "member@example.org", "s", "b")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, relay.calls, "open breaker must not reach the relay")
}

func TestSMTPNotifier_DefaultPort(t *testing.T) {
	relay := &fakeRelay{}
	n := NewSMTPNotifier(config.SMTPConfig{Host: "mail.example.org"})
	n.send = relay.send

	require.NoError(t, n.Notify(context.Background(), "a@example.org", "s", "b"))
	assert.Equal(t, "mail.example.org:587", relay.addr)
}

func TestSMTPNotifier_CancelledWhileThrottled(t *testing.T) {
	relay := &fakeRelay{}
	n := newTestSMTP(relay)
	n.pace = rate.NewLimiter(rate.Every(time.Hour), 1)

	require.NoError(t, n.Notify(context.Background(), "a@example.org", "s", "b"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, n.Notify(ctx, "a@example.org", "s", "b"))
	assert.Equal(t, 1, relay.calls)
}
