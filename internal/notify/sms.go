package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSSender delivers notifications through a Twilio-compatible SMS gateway.
// SMS is the escalation channel of last resort, so messages are kept short:
// the title plus a truncated body.
type SMSSender struct {
	accountSID string
	authToken  string
	from       string
	to         string
	baseURL    string
	client     *http.Client
}

// smsBodyLimit keeps messages inside a single SMS segment.
const smsBodyLimit = 160

// NewSMSSender creates an SMSSender for the given Twilio account and phone
// numbers. baseURL overrides the API endpoint; pass "" for the default.
func NewSMSSender(accountSID, authToken, from, to, baseURL string) *SMSSender {
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &SMSSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		to:         to,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a message to the gateway's Messages endpoint as a form-encoded
// request with HTTP basic auth.
func (s *SMSSender) Send(ctx context.Context, title, message string) error {
	text := title + ": " + message
	if len(text) > smsBodyLimit {
		text = text[:smsBodyLimit-3] + "..."
	}

	form := url.Values{}
	form.Set("From", s.from)
	form.Set("To", s.to)
	form.Set("Body", text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms: create request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (s *SMSSender) Name() string {
	return "sms"
}
