package deviceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "proxywatch/pkg/logx"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 4 << 20
)

// Config configures a Client. Zero values pick defaults.
type Config struct {
	Endpoint string
	Token    string
	// AuthScheme prefixes the token in the Authorization header. Empty
	// sends the raw token.
	AuthScheme   string
	Timeout      time.Duration
	MaxBodyBytes int64
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client fetches the device list. It is safe for concurrent use.
type Client struct {
	endpoint string
	auth     string
	maxBody  int64
	hc       *http.Client
	log      logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("deviceapi: endpoint is required")
	}
	if u, err := url.Parse(endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("deviceapi: endpoint %q is not an http(s) URL", endpoint)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("deviceapi: token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	auth := strings.TrimSpace(cfg.Token)
	if s := strings.TrimSpace(cfg.AuthScheme); s != "" {
		auth = s + " " + auth
	}
	return &Client{
		endpoint: endpoint,
		auth:     auth,
		maxBody:  maxBody,
		hc:       hc,
		log:      log.With(logx.String("comp", "deviceapi")),
	}, nil
}

// Fetch performs one GET and validates the payload. It never retries.
func (c *Client) Fetch(ctx context.Context) (PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, http.NoBody)
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return PollResult{}, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: read body: %w", ErrRequest, err)
	}
	if int64(len(body)) > c.maxBody {
		return PollResult{}, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedPayload, c.maxBody)
	}

	res, err := Parse(body)
	if err != nil {
		return PollResult{}, err
	}
	c.log.Debug("devices fetched",
		logx.Int("devices", len(res.Devices)),
		logx.Int("anomalies", len(res.Anomalies)),
		logx.Duration("took", time.Since(started)),
	)
	return res, nil
}

// Parse validates a response body of the form {"result": [ {...}, ... ]}.
// Records that are not objects or fail to decode are returned as anomalies.
func Parse(body []byte) (PollResult, error) {
	if !json.Valid(body) {
		return PollResult{}, ErrMalformedPayload
	}
	if firstByte(body) != '{' {
		return PollResult{}, &SchemaError{Kind: SchemaWrongType, Field: "response"}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return PollResult{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	raw, ok := top["result"]
	if !ok {
		return PollResult{}, &SchemaError{Kind: SchemaMissingKey, Field: "result"}
	}
	if firstByte(raw) != '[' {
		return PollResult{}, &SchemaError{Kind: SchemaWrongType, Field: "result"}
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return PollResult{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if len(records) == 0 {
		return PollResult{}, &SchemaError{Kind: SchemaEmpty, Field: "result"}
	}

	res := PollResult{Devices: make([]Device, 0, len(records))}
	for i, rec := range records {
		if firstByte(rec) != '{' {
			res.Anomalies = append(res.Anomalies, AnomalousRecord{Index: i, Reason: "record is not an object"})
			continue
		}
		var d Device
		if err := json.Unmarshal(rec, &d); err != nil {
			res.Anomalies = append(res.Anomalies, AnomalousRecord{Index: i, Reason: "decode: " + err.Error()})
			continue
		}
		if d.ID == "" {
			res.Anomalies = append(res.Anomalies, AnomalousRecord{Index: i, Name: d.Name, Reason: `no key "id"`})
			continue
		}
		res.Devices = append(res.Devices, d)
	}
	return res, nil
}

func firstByte(b []byte) byte {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}
