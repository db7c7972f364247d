package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/ecclesia-org/ecclesia/internal/config"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/internal/metrics"
)

// Notifier delivers a message to a member. Callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) error
}

// NewNotifier returns an SMTP notifier when a host is configured, otherwise
// a notifier that only logs
func NewNotifier(cfg config.SMTPConfig) Notifier {
	if cfg.Host == "" {
		return LogNotifier{}
	}
	return NewSMTPNotifier(cfg)
}

// LogNotifier writes notifications to the application log
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, to, subject, _ string) error {
	logging.Info().Str("to", to).Str("subject", subject).Msg("notification (smtp not configured)")
	metrics.Notifications.WithLabelValues("logged").Inc()
	return nil
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

const (
	breakerName = "smtp"

	// relays commonly throttle bursts from one sender
	sendsPerSecond = 10
	sendBurst      = 10
)

// SMTPNotifier sends plain-text mail behind a circuit breaker
type SMTPNotifier struct {
	cfg  config.SMTPConfig
	send sendFunc
	cb   *gobreaker.CircuitBreaker[struct{}]
	pace *rate.Limiter
	now  func() time.Time
}

func NewSMTPNotifier(cfg config.SMTPConfig) *SMTPNotifier {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &SMTPNotifier{
		cfg:  cfg,
		send: smtp.SendMail,
		cb:   cb,
		pace: rate.NewLimiter(rate.Limit(sendsPerSecond), sendBurst),
		now:  time.Now,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Notify sends one message. It returns gobreaker.ErrOpenState while the relay
// is considered down.
func (n *SMTPNotifier) Notify(ctx context.Context, to, subject, body string) error {
	to = headerSafe(to)
	if to == "" {
		return errors.New("notify: empty recipient")
	}
	if err := n.pace.Wait(ctx); err != nil {
		metrics.Notifications.WithLabelValues("rejected").Inc()
		return fmt.Errorf("send mail: %w", err)
	}

	msg := n.message(to, subject, body)
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.port()))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	_, err := n.cb.Execute(func() (struct{}, error) {
		return struct{}{}, n.send(addr, auth, n.cfg.From, []string{to}, msg)
	})
	switch {
	case err == nil:
		metrics.Notifications.WithLabelValues("sent").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.Notifications.WithLabelValues("rejected").Inc()
	default:
		metrics.Notifications.WithLabelValues("failed").Inc()
	}
	return fmt.Errorf("send mail: %w", err)
}

func (n *SMTPNotifier) port() int {
	if n.cfg.Port == 0 {
		return 587
	}
	return n.cfg.Port
}

func (n *SMTPNotifier) message(to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + headerSafe(n.cfg.From) + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + headerSafe(subject) + "\r\n")
	b.WriteString("Date: " + n.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// headerSafe strips line breaks so values cannot inject extra headers
func headerSafe(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(s))
}
