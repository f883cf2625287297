package artifactstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config configures the hosted store client.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds one SaveBatch call end to end, stream included.
	Timeout time.Duration
	// RequestsPerSecond throttles calls so retry bursts cannot hammer
	// the backend.
	RequestsPerSecond float64
}

// ApplyDefaults fills zero values with the standard settings.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 4
	}
}

// HTTPClient talks to the hosted store API. Saves stream NDJSON: progress
// frames followed by one terminal result frame.
type HTTPClient struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPClient builds a client from cfg. The client is usable even when
// unconfigured; Ready reports that state so the pipeline can classify it.
func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:  logger,
	}
}

// Ready implements Client.
func (c *HTTPClient) Ready() error {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return fmt.Errorf("store base URL is not configured")
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return fmt.Errorf("store API key is not configured")
	}
	return nil
}

type fileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type savePayload struct {
	Files []fileEntry `json:"files"`
}

// saveFrame is one NDJSON line of the save stream. Progress frames carry
// percent/message; the terminal frame carries done plus the result.
type saveFrame struct {
	Percent *int   `json:"percent,omitempty"`
	Message string `json:"message,omitempty"`

	Done    bool        `json:"done,omitempty"`
	Success bool        `json:"success,omitempty"`
	Saved   []string    `json:"saved,omitempty"`
	Failed  []FileError `json:"failed,omitempty"`
}

// SaveBatch implements Client.
func (c *HTTPClient) SaveBatch(ctx context.Context, req *SaveRequest) (*SaveResult, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}
	if req == nil || req.ProjectID == "" {
		return nil, fmt.Errorf("save request needs a project id")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for store rate limit: %w", err)
	}

	payload := savePayload{Files: make([]fileEntry, 0, len(req.Files))}
	for _, f := range req.Files {
		payload.Files = append(payload.Files, fileEntry{Path: f.Path, Content: f.Text()})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding save payload: %w", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") +
		"/v1/projects/" + url.PathEscape(req.ProjectID) + "/files"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building save request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("store returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	return c.readStream(resp.Body, req.OnProgress)
}

func (c *HTTPClient) readStream(body io.Reader, onProgress func(int, string)) (*SaveResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame saveFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			return nil, fmt.Errorf("decoding store stream: %w", err)
		}
		if frame.Done {
			return &SaveResult{
				Success: frame.Success,
				Saved:   frame.Saved,
				Failed:  frame.Failed,
			}, nil
		}
		if frame.Percent != nil && onProgress != nil {
			onProgress(clampPercent(*frame.Percent), frame.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading store stream: %w", err)
	}
	return nil, fmt.Errorf("store stream ended without a result")
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
