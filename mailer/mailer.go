// Package mailer provides the email delivery collaborators of the engine.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/sirupsen/logrus"
)

const defaultResendURL = "https://api.resend.com"

// Resend sends mail through the Resend HTTP API.
type Resend struct {
	apiKey  string
	from    string
	client  *http.Client
	baseURL string
}

var _ authgate.Mailer = (*Resend)(nil)

// ResendOption customizes a Resend mailer.
type ResendOption func(*Resend)

// WithBaseURL points the mailer at another API endpoint.
func WithBaseURL(u string) ResendOption {
	return func(m *Resend) { m.baseURL = u }
}

// WithHTTPClient replaces the default client (5 s timeout).
func WithHTTPClient(c *http.Client) ResendOption {
	return func(m *Resend) { m.client = c }
}

func NewResend(apiKey, from string, opts ...ResendOption) (*Resend, error) {
	if apiKey == "" {
		return nil, errors.New("resend api key not set")
	}
	if from == "" {
		return nil, errors.New("resend sender address not set")
	}

	m := &Resend{
		apiKey: apiKey,
		from:   from,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		baseURL: defaultResendURL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (m *Resend) Send(ctx context.Context, to, subject, htmlBody string) error {
	b, err := json.Marshal(sendRequest{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		HTML:    htmlBody,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/emails", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("send mail: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// Log writes each message to a logger instead of delivering it. The body
// carries the one-time token, so use it only outside production.
type Log struct {
	log logrus.FieldLogger
}

var _ authgate.Mailer = (*Log)(nil)

func NewLog(log logrus.FieldLogger) *Log {
	return &Log{log: log}
}

func (m *Log) Send(_ context.Context, to, subject, htmlBody string) error {
	m.log.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info(htmlBody)
	return nil
}

// Noop discards every message.
type Noop struct{}

var _ authgate.Mailer = Noop{}

func (Noop) Send(context.Context, string, string, string) error { return nil }
