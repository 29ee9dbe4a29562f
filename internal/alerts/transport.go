package alerts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"daqpull/internal/config"
	"daqpull/internal/logging"
)

const userAgent = "daqpull/0.1.0"

// Transport delivers one composed message to the operator destination.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// NewTransport returns the transport selected by alerts.transport.
func NewTransport(cfg *config.Config, logger *slog.Logger) (Transport, error) {
	if cfg == nil {
		return nil, errors.New("alerts: config is nil")
	}
	timeout := time.Duration(cfg.Alerts.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	switch cfg.Alerts.Transport {
	case config.AlertTransportLog, "":
		return NewLogTransport(logger), nil
	case config.AlertTransportSMTP:
		return &SMTPTransport{
			Addr: cfg.Alerts.SMTPAddr,
			From: cfg.Alerts.From,
			To:   splitRecipients(cfg.Alerts.To),
		}, nil
	case config.AlertTransportNtfy:
		return &NtfyTransport{
			Endpoint: strings.TrimSpace(cfg.Alerts.NtfyTopic),
			Client:   &http.Client{Timeout: timeout},
		}, nil
	default:
		return nil, fmt.Errorf("alerts: unknown transport %q", cfg.Alerts.Transport)
	}
}

func splitRecipients(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LogTransport writes alerts to the log only.
type LogTransport struct {
	logger *slog.Logger
}

func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logging.NewComponentLogger(logger, "alerts")}
}

func (t *LogTransport) Deliver(ctx context.Context, msg Message) error {
	t.logger.WarnContext(ctx, "operator alert",
		logging.Alert(msg.Subject),
		logging.String("body", msg.Body),
	)
	return nil
}

// SMTPTransport sends plain-text mail through a relay.
type SMTPTransport struct {
	Addr string
	From string
	To   []string
	Auth smtp.Auth

	// SendMail defaults to smtp.SendMail.
	SendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (t *SMTPTransport) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(t.To) == 0 {
		return errors.New("smtp: no recipients configured")
	}
	send := t.SendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(t.Addr, t.Auth, t.From, t.To, t.render(msg)); err != nil {
		return fmt.Errorf("send mail via %s: %w", t.Addr, err)
	}
	return nil
}

func (t *SMTPTransport) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", t.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(t.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", msg.CreatedAt.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// NtfyTransport posts alerts to an ntfy topic URL.
type NtfyTransport struct {
	Endpoint string
	Client   *http.Client
}

func (t *NtfyTransport) Deliver(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", msg.Subject)
	req.Header.Set("Tags", "daqpull,alert")
	req.Header.Set("Priority", "high")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
