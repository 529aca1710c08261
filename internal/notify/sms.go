package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSMSSender posts messages to an SMS provider's JSON API. Requests are
// signed with HMAC-SHA256 over the body when a secret is configured, and
// retried on transport errors and 5xx responses.
type HTTPSMSSender struct {
	endpoint   string
	apiKey     string
	secret     string
	sender     string
	httpClient *http.Client
	backoff    []time.Duration
}

// NewHTTPSMSSender creates an HTTPSMSSender. sender is the originator id
// shown on the handset.
func NewHTTPSMSSender(endpoint, apiKey, secret, sender string) *HTTPSMSSender {
	return &HTTPSMSSender{
		endpoint:   endpoint,
		apiKey:     apiKey,
		secret:     secret,
		sender:     sender,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		backoff:    []time.Duration{0, 500 * time.Millisecond, 2 * time.Second},
	}
}

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// Send delivers body to the given number.
func (s *HTTPSMSSender) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(smsRequest{From: s.sender, To: to, Text: body})
	if err != nil {
		return fmt.Errorf("marshal sms: %w", err)
	}

	var lastErr error
	for attempt, delay := range s.backoff {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("sms attempt %d: %w", attempt+1, ctx.Err())
			}
		}
		retry, err := s.post(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

// post performs a single delivery. The bool reports whether a retry may help.
func (s *HTTPSMSSender) post(ctx context.Context, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	if s.secret != "" {
		req.Header.Set("X-Signature", signPayload(payload, s.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("sms provider: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	return resp.StatusCode >= 500, fmt.Errorf("sms provider: HTTP %d", resp.StatusCode)
}

func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
