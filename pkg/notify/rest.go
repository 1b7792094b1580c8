package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/teslashibe/bobbys-table/internal/httpc"
	"github.com/teslashibe/bobbys-table/internal/log"
)

// RESTConfig holds SignalWire REST credentials.
type RESTConfig struct {
	// Space is the SignalWire space, either "example" or "example.signalwire.com".
	Space     string
	ProjectID string
	Token     string
	// BaseURL overrides the https://{space} prefix.
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
}

// RESTSender posts messages to the SignalWire LaML Messages API.
type RESTSender struct {
	cfg      RESTConfig
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewRESTSender validates cfg and creates a sender.
func NewRESTSender(cfg RESTConfig) (*RESTSender, error) {
	if cfg.ProjectID == "" || cfg.Token == "" || (cfg.Space == "" && cfg.BaseURL == "") {
		return nil, ErrNotConfigured
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://" + SpaceHost(cfg.Space)
	}
	if cfg.Client == nil {
		cfg.Client = httpc.NewClient(httpc.SMSTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("notify.rest")
	}
	return &RESTSender{
		cfg:      cfg,
		endpoint: fmt.Sprintf("%s/api/laml/2010-04-01/Accounts/%s/Messages.json", base, url.PathEscape(cfg.ProjectID)),
		client:   cfg.Client,
		logger:   cfg.Logger,
	}, nil
}

// SpaceHost turns a space name or URL into a host name.
func SpaceHost(space string) string {
	host := strings.TrimSpace(space)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimRight(host, "/")
	if host != "" && !strings.Contains(host, ".") {
		host += ".signalwire.com"
	}
	return host
}

// Name returns "rest".
func (r *RESTSender) Name() string { return "rest" }

// Send posts the message and expects 201 Created.
func (r *RESTSender) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		return fmt.Errorf("%w: from number", ErrNotConfigured)
	}
	form := url.Values{}
	form.Set("From", msg.From)
	form.Set("To", msg.To)
	form.Set("Body", msg.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(r.cfg.ProjectID, r.cfg.Token)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusCreated {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var parsed struct {
			Code    any    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
			apiErr.Message = parsed.Message
			apiErr.Code = fmt.Sprint(parsed.Code)
		}
		return apiErr
	}

	var created struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(body, &created)
	r.logger.Info("sms queued", "sid", created.SID, "status", created.Status, "to", maskPhone(msg.To))
	return nil
}

// APIError is a non-201 response from the Messages API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" && e.Code != "<nil>" {
		return fmt.Sprintf("notify: API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("notify: API error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the same request may succeed later.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

var (
	_ Sender = (*RESTSender)(nil)
	_ Sender = (*ActionSender)(nil)
)
