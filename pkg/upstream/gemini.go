package upstream

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
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pario-ai/google-proxy/pkg/models"
)

// DefaultBaseURL is the public Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const maxEventSize = 8 << 20

// Gemini is an HTTP client for the Gemini API.
type Gemini struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Client = (*Gemini)(nil)

// Option configures a Gemini client.
type Option func(*Gemini)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(g *Gemini) {
		if u != "" {
			g.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gemini) { g.http = c }
}

// WithRateLimit limits outgoing calls to rps per second. Zero disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gemini) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gemini) { g.logger = l }
}

// NewGemini creates a client authenticating with apiKey.
func NewGemini(apiKey string, opts ...Option) *Gemini {
	g := &Gemini{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		http:    http.DefaultClient,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gemini) endpoint(model, method string, query url.Values) string {
	u := g.baseURL + "/models/" + url.PathEscape(model) + ":" + method
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (g *Gemini) newRequest(ctx context.Context, target string, body models.GenerateContentRequest) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)
	return req, nil
}

func (g *Gemini) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

// Generate performs a generateContent call bounded by call.Timeout.
func (g *Gemini) Generate(ctx context.Context, call Call) (*models.GenerateContentResponse, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	if call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}

	req, err := g.newRequest(ctx, g.endpoint(call.Model, "generateContent", nil), call.Request)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readHTTPError(resp)
	}

	var out models.GenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	g.logger.Debug("upstream call complete",
		zap.String("model", call.Model),
		zap.Duration("latency", time.Since(start)),
	)
	return &out, nil
}

// Stream starts a streamGenerateContent call in SSE mode. call.Timeout
// bounds the wait for response headers; the open stream is bounded only by
// ctx.
func (g *Gemini) Stream(ctx context.Context, call Call) (Stream, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := g.newRequest(streamCtx, g.endpoint(call.Model, "streamGenerateContent", url.Values{"alt": {"sse"}}), call.Request)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	var timedOut atomic.Bool
	var timer *time.Timer
	if call.Timeout > 0 {
		timer = time.AfterFunc(call.Timeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}

	resp, err := g.http.Do(req)
	if timer != nil {
		timer.Stop()
	}
	if timedOut.Load() {
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return nil, fmt.Errorf("stream setup exceeded %s: %w", call.Timeout, context.DeadlineExceeded)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		return nil, readHTTPError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)
	return &sseStream{body: resp.Body, scanner: scanner, cancel: cancel}, nil
}

func readHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	herr := &HTTPError{Status: resp.StatusCode}
	var apiErr models.APIErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != nil {
		herr.Message = apiErr.Error.Message
		herr.Reason = apiErr.Error.Status
	} else {
		herr.Message = strings.TrimSpace(string(body))
	}
	return herr
}

// streamEvent is one SSE data payload. The API reports mid-stream failures
// as an error object in place of a response.
type streamEvent struct {
	models.GenerateContentResponse
	models.APIErrorResponse
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
}

// Next returns the next event, io.EOF at the end of the stream, or the
// error that interrupted it.
func (s *sseStream) Next() (*models.GenerateContentResponse, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var evt streamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			return nil, fmt.Errorf("decode stream event: %w", err)
		}
		if evt.Error != nil {
			return nil, &HTTPError{Status: evt.Error.Code, Reason: evt.Error.Status, Message: evt.Error.Message}
		}
		out := evt.GenerateContentResponse
		return &out, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	return nil, io.EOF
}

func (s *sseStream) Close() error {
	s.cancel()
	return s.body.Close()
}
