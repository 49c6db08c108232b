package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"charityledger/internal/model"
	"charityledger/pkg/circuitbreaker"
	"charityledger/pkg/metrics"
	"charityledger/pkg/otel"
	"charityledger/pkg/trace"
)

// Config 链上协作方配置
type Config struct {
	Enabled       bool          `yaml:"enabled" env:"CHAIN_ENABLED"`
	RelayerURL    string        `yaml:"relayer_url" env:"CHAIN_RELAYER_URL"`
	NodeURL       string        `yaml:"node_url" env:"CHAIN_NODE_URL"`
	ModuleAddress string        `yaml:"module_address" env:"CHAIN_MODULE_ADDRESS"`
	APIKey        string        `yaml:"api_key" env:"CHAIN_API_KEY"`
	Timeout       time.Duration `yaml:"timeout" env:"CHAIN_TIMEOUT"`
}

// StatusError is a non-2xx answer from the relayer or node.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chain %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Retryable reports whether the upstream may succeed on a later attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client talks to a transaction relayer for entry functions and to a
// fullnode REST API for view functions.
type Client struct {
	cfg        Config
	fns        Functions
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
	now        func() time.Time
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	cbConfig := circuitbreaker.Config{
		Name:                "chain",
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 2,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.SetCircuitBreakerState(name, int(to))
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// 4xx 是请求本身的问题，不应打开熔断
		IsFailure: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Retryable()
			}
			return err != nil
		},
	}

	return &Client{
		cfg:        cfg,
		fns:        Functions{ModuleAddress: cfg.ModuleAddress},
		httpClient: &http.Client{Timeout: timeout},
		cb:         circuitbreaker.NewCircuitBreaker(cbConfig),
		logger:     logger,
		now:        time.Now,
	}
}

func (c *Client) Functions() Functions {
	return c.fns
}

// Submit sends an entry function to the relayer and returns its transaction hash.
func (c *Client) Submit(ctx context.Context, fn EntryFunction) (Receipt, error) {
	var out struct {
		Hash string `json:"hash"`
	}
	if err := c.post(ctx, c.cfg.RelayerURL+"/transactions", fn.Function, fn, &out); err != nil {
		return Receipt{}, err
	}
	if out.Hash == "" {
		return Receipt{}, fmt.Errorf("relayer returned no transaction hash for %s", fn.Function)
	}

	c.logger.Info("Chain transaction submitted",
		zap.String("function", fn.Function),
		zap.String("tx_hash", out.Hash),
		zap.String("trace_id", trace.FromContext(ctx)),
	)
	return Receipt{Hash: out.Hash, Function: fn.Function, SubmittedAt: c.now().UTC()}, nil
}

func (c *Client) view(ctx context.Context, fn string, args ...string) ([]json.RawMessage, error) {
	payload := c.fns.entry(fn, args...)
	var out []json.RawMessage
	if err := c.post(ctx, c.cfg.NodeURL+"/v1/view", payload.Function, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	out, err := c.view(ctx, "project_exists", projectID)
	if err != nil {
		return false, err
	}
	if len(out) < 1 {
		return false, errShortResponse("project_exists", len(out))
	}
	return decodeBool(out[0])
}

func (c *Client) ProjectDetails(ctx context.Context, projectID string) (ProjectDetails, error) {
	out, err := c.view(ctx, "get_project_details", projectID)
	if err != nil {
		return ProjectDetails{}, err
	}
	if len(out) < 5 {
		return ProjectDetails{}, errShortResponse("get_project_details", len(out))
	}

	var d ProjectDetails
	if d.Title, err = decodeString(out[0]); err != nil {
		return ProjectDetails{}, err
	}
	if d.Description, err = decodeString(out[1]); err != nil {
		return ProjectDetails{}, err
	}
	if d.TotalFundingRequired, err = decodeOctas(out[2]); err != nil {
		return ProjectDetails{}, err
	}
	if d.CurrentFunding, err = decodeOctas(out[3]); err != nil {
		return ProjectDetails{}, err
	}
	if d.Creator, err = decodeString(out[4]); err != nil {
		return ProjectDetails{}, err
	}
	return d, nil
}

func (c *Client) ProjectCount(ctx context.Context) (int, error) {
	out, err := c.view(ctx, "get_project_count")
	if err != nil {
		return 0, err
	}
	if len(out) < 1 {
		return 0, errShortResponse("get_project_count", len(out))
	}
	return decodeInt(out[0])
}

func (c *Client) MilestoneDetails(ctx context.Context, projectID string, milestoneIndex int) (MilestoneDetails, error) {
	out, err := c.view(ctx, "get_milestone_details", projectID, strconv.Itoa(milestoneIndex))
	if err != nil {
		return MilestoneDetails{}, err
	}
	if len(out) < 6 {
		return MilestoneDetails{}, errShortResponse("get_milestone_details", len(out))
	}

	var d MilestoneDetails
	if d.Title, err = decodeString(out[0]); err != nil {
		return MilestoneDetails{}, err
	}
	if d.Description, err = decodeString(out[1]); err != nil {
		return MilestoneDetails{}, err
	}
	if d.FundingAmount, err = decodeOctas(out[2]); err != nil {
		return MilestoneDetails{}, err
	}
	if d.IsCompleted, err = decodeBool(out[3]); err != nil {
		return MilestoneDetails{}, err
	}
	if d.IsVerified, err = decodeBool(out[4]); err != nil {
		return MilestoneDetails{}, err
	}
	if d.VerificationCount, err = decodeInt(out[5]); err != nil {
		return MilestoneDetails{}, err
	}
	return d, nil
}

func (c *Client) MilestoneCount(ctx context.Context, projectID string) (int, error) {
	out, err := c.view(ctx, "get_milestone_count", projectID)
	if err != nil {
		return 0, err
	}
	if len(out) < 1 {
		return 0, errShortResponse("get_milestone_count", len(out))
	}
	return decodeInt(out[0])
}

// post 经熔断器发送 JSON 请求并解码响应
func (c *Client) post(ctx context.Context, url, function string, body, out any) (err error) {
	ctx, span := otel.StartSpan(ctx, "chain.call")
	span.SetAttributes(attribute.String("chain.function", function))
	defer func() { otel.EndSpan(span, err) }()

	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal chain request: %w", err)
	}

	return c.cb.Execute(ctx, func(ctx context.Context) error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
		if traceID := trace.FromContext(ctx); traceID != "" {
			req.Header.Set(trace.HeaderName, traceID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordChainCallLatency(function, "error", time.Since(start))
			return fmt.Errorf("failed to call chain: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			metrics.RecordChainCallLatency(function, strconv.Itoa(resp.StatusCode), time.Since(start))
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &StatusError{Endpoint: url, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
		}

		metrics.RecordChainCallLatency(function, "success", time.Since(start))
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode chain response: %w", err)
		}
		return nil
	})
}

func errShortResponse(fn string, n int) error {
	return fmt.Errorf("view %s returned %d values", fn, n)
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("failed to decode string: %w", err)
	}
	return s, nil
}

func decodeBool(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, fmt.Errorf("failed to decode bool: %w", err)
	}
	return b, nil
}

// decodeNumber accepts u64 values encoded either as JSON strings or numbers.
func decodeNumber(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("failed to decode number: %w", err)
	}
	return n.String(), nil
}

func decodeInt(raw json.RawMessage) (int, error) {
	s, err := decodeNumber(raw)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

func decodeOctas(raw json.RawMessage) (model.Money, error) {
	s, err := decodeNumber(raw)
	if err != nil {
		return model.Zero, err
	}
	return FromOctas(s)
}
