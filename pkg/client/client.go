package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Receipt is returned by RequestOTP.
type Receipt struct {
	Message   string   `json:"message"`
	ExpiresIn int      `json:"expiresIn"`
	SentVia   []string `json:"sentVia"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Confirmation carries the ballot token returned by ConfirmOTP. The server
// shows it once.
type Confirmation struct {
	BallotToken string `json:"ballotToken"`
	Message     string `json:"message"`
}

// Position is a contested office on the ballot.
type Position struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Seats        int       `json:"seats"`
	VotingOpens  time.Time `json:"votingOpens"`
	VotingCloses time.Time `json:"votingCloses"`
}

// Candidate is an approved candidate for a position.
type Candidate struct {
	ID         string `json:"id"`
	PositionID string `json:"positionId"`
	Name       string `json:"name"`
}

// Ballot is the ballot page returned by Ballot.
type Ballot struct {
	Ballot struct {
		ID       string    `json:"id"`
		Status   string    `json:"status"`
		IssuedAt time.Time `json:"issuedAt"`
	} `json:"ballot"`
	Positions  []Position  `json:"positions"`
	Candidates []Candidate `json:"candidates"`
}

// Selection is one position→candidate choice.
type Selection struct {
	PositionID  string `json:"positionId"`
	CandidateID string `json:"candidateId"`
}

// CastResult is returned by Cast.
type CastResult struct {
	Message string `json:"message"`
	Votes   int    `json:"votes"`
}

// AuditOverview is the chain length and tip hash of the audit ledger.
type AuditOverview struct {
	Entries int    `json:"entries"`
	Root    string `json:"root"`
}

// AuditEntry is a single audit ledger entry.
type AuditEntry struct {
	Index     int             `json:"index"`
	Timestamp time.Time       `json:"timestamp"`
	Subject   string          `json:"subject"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor"`
	Details   json.RawMessage `json:"details,omitempty"`
	DataHash  string          `json:"data_hash"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status     int
	Code       string         `json:"code"`
	Message    string         `json:"error"`
	Details    map[string]any `json:"details,omitempty"`
	RetryAfter time.Duration  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Client talks to a campusvote server.
type Client struct {
	base       string
	httpClient *http.Client
	adminToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithAdminToken attaches an admin token to audit requests.
func WithAdminToken(token string) Option {
	return func(c *Client) error {
		c.adminToken = token
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RequestOTP asks the server to send a one-time code to the voter's contacts.
func (c *Client) RequestOTP(ctx context.Context, regNo string) (*Receipt, error) {
	var out Receipt
	err := c.call(ctx, http.MethodPost, "/api/v1/verify/request-otp", nil,
		map[string]string{"reg_no": regNo}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmOTP exchanges a one-time code for a ballot token.
func (c *Client) ConfirmOTP(ctx context.Context, regNo, otp string) (*Confirmation, error) {
	var out Confirmation
	err := c.call(ctx, http.MethodPost, "/api/v1/verify/confirm-otp", nil,
		map[string]string{"reg_no": regNo, "otp": otp}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Ballot fetches the positions currently open and their candidates. The token
// is sent in a header so it stays out of server access logs.
func (c *Client) Ballot(ctx context.Context, token string) (*Ballot, error) {
	var out Ballot
	hdr := http.Header{"X-Ballot-Token": []string{token}}
	if err := c.call(ctx, http.MethodGet, "/api/v1/vote/ballot", hdr, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cast submits the voter's selections, consuming the ballot.
func (c *Client) Cast(ctx context.Context, token string, votes []Selection) (*CastResult, error) {
	var out CastResult
	body := struct {
		Token string      `json:"token"`
		Votes []Selection `json:"votes"`
	}{token, votes}
	if err := c.call(ctx, http.MethodPost, "/api/v1/vote/cast", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminToken exchanges the admin secret for an admin token.
func (c *Client) AdminToken(ctx context.Context, secret string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/admin/token", nil,
		map[string]string{"secret": secret}, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// AuditOverview returns the audit ledger's length and root hash.
func (c *Client) AuditOverview(ctx context.Context) (*AuditOverview, error) {
	var out AuditOverview
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit", c.adminHeader(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyAudit walks the audit chain on the server. reason is set when the
// chain is broken.
func (c *Client) VerifyAudit(ctx context.Context) (ok bool, reason string, err error) {
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit/verify", c.adminHeader(), nil, &out); err != nil {
		return false, "", err
	}
	return out.Valid, out.Error, nil
}

// AuditEntry returns the audit entry at idx.
func (c *Client) AuditEntry(ctx context.Context, idx int) (*AuditEntry, error) {
	var out AuditEntry
	path := "/api/v1/audit/entries/" + strconv.Itoa(idx)
	if err := c.call(ctx, http.MethodGet, path, c.adminHeader(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) adminHeader() http.Header {
	if c.adminToken == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + c.adminToken}}
}

// call performs a JSON request and decodes a 2xx body into out. Any other
// status is returned as *APIError.
func (c *Client) call(ctx context.Context, method, path string, hdr http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(s) * time.Second
		}
		return apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
