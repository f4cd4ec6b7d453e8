package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/agentcouncil/agent/council"
	"github.com/BaSui01/agentcouncil/internal/tlsutil"
	"github.com/BaSui01/agentcouncil/types"
	"go.uber.org/zap"
)

// Config Ollama 连接配置
type Config struct {
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
	// KeepAlive is passed through as keep_alive, e.g. "5m" or "-1"
	KeepAlive string `json:"keep_alive" yaml:"keep_alive" env:"KEEP_ALIVE"`
	// MaxConnsPerHost should be at least the council's max_parallel
	MaxConnsPerHost int `json:"max_conns_per_host" yaml:"max_conns_per_host" env:"MAX_CONNS_PER_HOST"`
}

// DefaultConfig 返回本机 Ollama 的默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:11434",
		Timeout:         120 * time.Second,
		KeepAlive:       "5m",
		MaxConnsPerHost: 8,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return types.NewError(types.ErrInvalidConfig, "ollama base_url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return types.Errorf(types.ErrInvalidConfig, "ollama base_url must be http(s): %q", c.BaseURL)
	}
	if c.Timeout < 0 {
		return types.NewError(types.ErrInvalidConfig, "ollama timeout must not be negative")
	}
	return nil
}

// Client talks to one Ollama server.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var (
	_ council.Generator     = (*Client)(nil)
	_ council.ModelRegistry = (*Client)(nil)
)

// New creates a client. A zero Timeout leaves request deadlines to the
// caller's context.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	return &Client{
		cfg:    cfg,
		client: tlsutil.HTTPClient(cfg.Timeout, cfg.MaxConnsPerHost),
		logger: logger.With(zap.String("component", "ollama")),
	}
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateRequest struct {
	Model     string          `json:"model"`
	Prompt    string          `json:"prompt"`
	System    string          `json:"system,omitempty"`
	Stream    bool            `json:"stream"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Options   generateOptions `json:"options"`
}

type generateResponse struct {
	Model         string `json:"model"`
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	TotalDuration int64  `json:"total_duration"`
	EvalCount     int    `json:"eval_count"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
		Size  int64  `json:"size"`
	} `json:"models"`
}

// Generate runs one non-streaming completion.
func (c *Client) Generate(ctx context.Context, req council.GenerateRequest) (string, error) {
	body := generateRequest{
		Model:     req.Model,
		Prompt:    req.Prompt,
		System:    req.System,
		KeepAlive: c.cfg.KeepAlive,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}

	var out generateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", body, &out); err != nil {
		return "", err
	}

	c.logger.Debug("generate done",
		zap.String("model", req.Model),
		zap.Int("eval_count", out.EvalCount),
		zap.Duration("total", time.Duration(out.TotalDuration)),
	)
	return out.Response, nil
}

// ListModels returns the installed model names in server order.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var out tagsResponse
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return types.NewError(types.ErrInternalError, "failed to marshal request").WithCause(err)
		}
		reader = bytes.NewReader(payload)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to create request").WithCause(err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(ctxErr)
		}
		return types.Errorf(types.ErrModelUnavailable, "ollama request %s failed", path).
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.Errorf(types.ErrInternalError, "failed to decode %s response", path).WithCause(err)
	}
	return nil
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "ollama request timed out").WithCause(err)
	}
	return types.NewError(types.ErrCancelled, "ollama request cancelled").WithCause(err)
}

// mapHTTPError 将 HTTP 状态码映射为带重试标记的错误
func mapHTTPError(status int, msg string) *types.Error {
	switch {
	case status == http.StatusNotFound:
		return types.Errorf(types.ErrModelUnavailable, "ollama: %s", msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return types.Errorf(types.ErrModelUnavailable, "ollama status %d: %s", status, msg).WithRetryable(true)
	default:
		return types.Errorf(types.ErrInternalError, "ollama status %d: %s", status, msg)
	}
}

// readErrorMessage 读取 {"error": "..."}，失败时回退到原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &resp); err == nil && resp.Error != "" {
		return resp.Error
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return "empty body"
}
