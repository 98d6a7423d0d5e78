package tcapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/logging"
	"github.com/stackinspector/teo-utils/internal/retry"
)

// Caller is the subset of Client used by typed action wrappers.
type Caller interface {
	Call(ctx context.Context, svc Service, action string, payload, out any) error
}

var _ Caller = (*Client)(nil)

// Client sends signed requests and decodes the {"Response": ...} envelope.
type Client struct {
	Credentials Credentials
	// Region is sent as X-TC-Region when set. It is not part of the signature.
	Region     string
	HTTPClient *http.Client
	// Endpoint returns the URL to POST to. Defaults to https://<host>/.
	Endpoint func(Service) string
	Now      func() time.Time
	Retry    retry.Policy
	Logger   *zap.Logger
}

// NewClient returns a Client with default transport, clock and retry policy.
func NewClient(creds Credentials, logger *zap.Logger) *Client {
	return &Client{
		Credentials: creds,
		HTTPClient:  &http.Client{Timeout: 60 * time.Second},
		Endpoint:    DefaultEndpoint,
		Now:         time.Now,
		Retry:       retry.Default(),
		Logger:      logging.OrNop(logger),
	}
}

// DefaultEndpoint is the public HTTPS endpoint of svc.
func DefaultEndpoint(svc Service) string {
	return "https://" + svc.Host + "/"
}

type envelope struct {
	Response json.RawMessage `json:"Response"`
}

type errorProbe struct {
	Error *struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	} `json:"Error"`
	RequestID string `json:"RequestId"`
}

// Call signs payload as action on svc, sends it and decodes the response
// body into out. Transport failures and 5xx responses are retried per
// c.Retry; every attempt is signed with a fresh timestamp.
func (c *Client) Call(ctx context.Context, svc Service, action string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode payload: %w", action, err)
	}

	logger := logging.OrNop(c.Logger)

	var raw []byte
	err = c.Retry.Do(ctx, func(attempt int) error {
		var err error
		raw, err = c.send(ctx, svc, action, body)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return retry.Permanent(err)
		}
		logger.Warn("api request failed",
			logging.Action(action),
			logging.Attempt(attempt),
			zap.Error(err))
		return err
	})
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: decode envelope: %w", action, err)
	}
	if len(env.Response) == 0 {
		return fmt.Errorf("%s: decode envelope: missing Response", action)
	}

	var probe errorProbe
	if err := json.Unmarshal(env.Response, &probe); err != nil {
		return fmt.Errorf("%s: decode response: %w", action, err)
	}
	if probe.Error != nil {
		return &APIError{
			Action:    action,
			Code:      probe.Error.Code,
			Message:   probe.Error.Message,
			RequestID: probe.RequestID,
		}
	}

	logger.Debug("api request succeeded",
		logging.Action(action),
		logging.RequestID(probe.RequestID))

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", action, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, svc Service, action string, body []byte) ([]byte, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	signed := Sign(svc, action, body, now().Unix(), c.Credentials)

	endpoint := DefaultEndpoint
	if c.Endpoint != nil {
		endpoint = c.Endpoint
	}

	req, err := http.NewRequestWithContext(ctx, signed.Method, endpoint(svc), bytes.NewReader(signed.Body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", action, err)
	}
	for k, v := range signed.Header {
		req.Header[k] = v
	}
	req.Host = signed.Host
	if c.Region != "" {
		req.Header.Set("X-TC-Region", c.Region)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Action: action, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	return raw, nil
}
