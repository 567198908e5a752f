// Package dispatch turns inbound requests into upstream calls. It consults
// the response cache, expands conversation history, runs the call under the
// retry controller and records results only after a confirmed success.
package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/pario-ai/google-proxy/pkg/cache"
	"github.com/pario-ai/google-proxy/pkg/config"
	"github.com/pario-ai/google-proxy/pkg/conversation"
	"github.com/pario-ai/google-proxy/pkg/errs"
	"github.com/pario-ai/google-proxy/pkg/models"
	"github.com/pario-ai/google-proxy/pkg/retry"
	"github.com/pario-ai/google-proxy/pkg/upstream"
)

// ChunkSink receives streaming chunks in order. A returned error aborts the
// stream.
type ChunkSink func(models.Chunk) error

// UsageRecorder receives one record per successful request.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Dispatcher handles requests for one actor. It is not safe for concurrent
// use; the actor delivers one request at a time.
type Dispatcher struct {
	cfg      config.Effective
	client   upstream.Client
	cache    *cache.Cache
	sessions *conversation.Store
	retry    *retry.Controller
	catalog  []models.ModelInfo
	logger   *zap.Logger

	usage   UsageRecorder
	storeID string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCache sets the response cache.
func WithCache(c *cache.Cache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

// WithSessions sets the conversation store.
func WithSessions(s *conversation.Store) Option {
	return func(d *Dispatcher) { d.sessions = s }
}

// WithRetry sets the retry controller.
func WithRetry(r *retry.Controller) Option {
	return func(d *Dispatcher) { d.retry = r }
}

// WithCatalog replaces the built-in model catalog.
func WithCatalog(c []models.ModelInfo) Option {
	return func(d *Dispatcher) { d.catalog = c }
}

// WithUsage records token usage of every successful request under storeID.
func WithUsage(u UsageRecorder, storeID string) Option {
	return func(d *Dispatcher) {
		d.usage = u
		d.storeID = storeID
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher. Components not supplied through options are
// built in memory from cfg.
func New(cfg config.Effective, client upstream.Client, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg,
		client:  client,
		catalog: models.DefaultModels(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cache == nil {
		d.cache = cache.New(cfg.MaxCacheSize, cache.WithLogger(d.logger))
	}
	if d.sessions == nil {
		d.sessions = conversation.New(cfg.MaxSessions, conversation.WithLogger(d.logger))
	}
	if d.retry == nil {
		d.retry = retry.New(cfg.Retry, retry.WithLogger(d.logger))
	}
	return d
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() config.Effective {
	return d.cfg
}

// CacheStats returns response cache metrics.
func (d *Dispatcher) CacheStats() models.CacheStats {
	return d.cache.Stats()
}

// ListModels returns the model catalog.
func (d *Dispatcher) ListModels() []models.ModelInfo {
	out := make([]models.ModelInfo, len(d.catalog))
	copy(out, d.catalog)
	return out
}

// Handle processes one request. Streaming requests deliver their output to
// sink and always end it with exactly one chunk that has Done or Error set;
// the returned Response then carries the concatenated text.
func (d *Dispatcher) Handle(ctx context.Context, req models.Request, sink ChunkSink) (*models.Response, error) {
	switch r := req.(type) {
	case *models.TextGeneration:
		out, err := d.normalize(r.Fields, nil, nil)
		if err != nil {
			return nil, err
		}
		return d.complete(ctx, r.Kind(), out, "", r.Prompt)

	case *models.ImageUnderstanding:
		if err := validateImage(r.Image); err != nil {
			return nil, err
		}
		out, err := d.normalize(r.Fields, nil, &r.Image)
		if err != nil {
			return nil, err
		}
		return d.complete(ctx, r.Kind(), out, "", r.Prompt)

	case *models.ChatTurn:
		sessionID := r.SessionID
		if sessionID == "" {
			sessionID = conversation.NewSessionID()
		} else if err := conversation.ValidateID(sessionID); err != nil {
			return nil, errs.Validationf("%v", err)
		}
		history := d.sessions.Context(ctx, sessionID)
		out, err := d.normalize(r.Fields, history, nil)
		if err != nil {
			return nil, err
		}
		return d.complete(ctx, r.Kind(), out, sessionID, r.Prompt)

	case *models.StreamingGeneration:
		if sink == nil {
			sink = func(models.Chunk) error { return nil }
		}
		resp, err := d.stream(ctx, r, sink)
		if err != nil {
			_ = sink(models.Chunk{Error: models.NewErrorPayload(err)})
			return nil, err
		}
		return resp, nil

	case nil:
		return nil, errs.Validationf("request is empty")

	default:
		return nil, errs.Validationf("unsupported request type %T", req)
	}
}

// complete runs a non-streaming request through the cache and the retry
// controller. sessionID is set for chat turns.
func (d *Dispatcher) complete(ctx context.Context, kind models.Kind, out models.Outbound, sessionID, prompt string) (*models.Response, error) {
	log := d.logger.With(zap.String("kind", string(kind)), zap.String("model", out.Model))

	fp, err := cache.Fingerprint(out)
	if err != nil {
		log.Warn("fingerprint failed, bypassing cache", zap.Error(err))
		fp = ""
	}

	if fp != "" {
		if hit, ok := d.cache.Get(ctx, fp); ok {
			log.Debug("cache hit", zap.String("fingerprint", fp))
			resp := *hit
			resp.Kind = kind
			resp.Cached = true
			if sessionID != "" {
				d.record(ctx, sessionID, prompt, resp.Text)
				resp.SessionID = sessionID
			}
			d.account(ctx, &resp)
			return &resp, nil
		}
	}

	call := upstream.Call{Model: out.Model, Request: out.Wire(), Timeout: d.cfg.Timeout}
	raw, err := retry.Execute(ctx, d.retry, func(ctx context.Context) (*models.GenerateContentResponse, error) {
		r, err := d.client.Generate(ctx, call)
		if err != nil {
			return nil, err
		}
		if reason := r.Blocked(); reason != "" {
			return nil, errs.New(errs.KindUpstreamTerminal, "prompt blocked: "+strings.ToLower(reason), nil)
		}
		return r, nil
	})
	if err != nil {
		log.Info("request failed", zap.String("error_kind", string(errs.KindOf(err))), zap.Error(err))
		return nil, err
	}

	resp := models.Response{
		Kind:         kind,
		Model:        out.Model,
		Text:         raw.Text(),
		FinishReason: raw.FinishReason(),
		Usage:        raw.UsageMetadata.ToUsage(),
	}
	if fp != "" {
		d.cache.Put(ctx, fp, resp)
	}
	if sessionID != "" {
		d.record(ctx, sessionID, prompt, resp.Text)
		resp.SessionID = sessionID
	}
	d.account(ctx, &resp)
	return &resp, nil
}

func (d *Dispatcher) stream(ctx context.Context, r *models.StreamingGeneration, sink ChunkSink) (*models.Response, error) {
	sessionID := ""
	if r.SessionID != "" && d.cfg.StreamHistory {
		if err := conversation.ValidateID(r.SessionID); err != nil {
			return nil, errs.Validationf("%v", err)
		}
		sessionID = r.SessionID
	}

	var history []models.Turn
	if sessionID != "" {
		history = d.sessions.Context(ctx, sessionID)
	}
	out, err := d.normalize(r.Fields, history, nil)
	if err != nil {
		return nil, err
	}
	log := d.logger.With(zap.String("kind", string(r.Kind())), zap.String("model", out.Model))

	call := upstream.Call{Model: out.Model, Request: out.Wire(), Timeout: d.cfg.Timeout}
	s, err := retry.Execute(ctx, d.retry, func(ctx context.Context) (upstream.Stream, error) {
		return d.client.Stream(ctx, call)
	})
	if err != nil {
		log.Info("stream setup failed", zap.String("error_kind", string(errs.KindOf(err))), zap.Error(err))
		return nil, err
	}
	defer s.Close()

	var (
		text   strings.Builder
		finish string
		usage  *models.Usage
		index  int
	)
	for {
		evt, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, errs.New(errs.KindCancelled, "stream cancelled", ctx.Err())
			}
			log.Warn("stream interrupted", zap.Int("chunks", index), zap.Error(err))
			return nil, errs.New(errs.KindUpstreamTerminal, "stream interrupted", err)
		}
		if reason := evt.Blocked(); reason != "" {
			return nil, errs.New(errs.KindUpstreamTerminal, "prompt blocked: "+strings.ToLower(reason), nil)
		}
		if f := evt.FinishReason(); f != "" {
			finish = f
		}
		if u := evt.UsageMetadata.ToUsage(); u != nil {
			usage = u
		}
		delta := evt.Text()
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if err := sink(models.Chunk{Index: index, Text: delta}); err != nil {
			return nil, errs.New(errs.KindCancelled, "stream consumer gone", err)
		}
		index++
	}

	if err := sink(models.Chunk{Index: index, FinishReason: finish, Usage: usage, Done: true}); err != nil {
		return nil, errs.New(errs.KindCancelled, "stream consumer gone", err)
	}

	resp := &models.Response{
		Kind:         r.Kind(),
		Model:        out.Model,
		Text:         text.String(),
		FinishReason: finish,
		Usage:        usage,
	}
	if sessionID != "" {
		d.record(ctx, sessionID, r.Prompt, resp.Text)
		resp.SessionID = sessionID
	}
	d.account(ctx, resp)
	return resp, nil
}

func (d *Dispatcher) record(ctx context.Context, sessionID, prompt, reply string) {
	d.sessions.Append(ctx, sessionID,
		models.Turn{Role: models.RoleUser, Text: prompt},
		models.Turn{Role: models.RoleModel, Text: reply},
	)
}

// account writes a usage record. Cached replies are recorded with the token
// counts of the original upstream call.
func (d *Dispatcher) account(ctx context.Context, resp *models.Response) {
	if d.usage == nil {
		return
	}
	rec := models.UsageRecord{
		StoreID:   d.storeID,
		Kind:      resp.Kind,
		Model:     resp.Model,
		SessionID: resp.SessionID,
		Cached:    resp.Cached,
	}
	if resp.Usage != nil {
		rec.PromptTokens = resp.Usage.PromptTokens
		rec.CompletionTokens = resp.Usage.CompletionTokens
		rec.TotalTokens = resp.Usage.TotalTokens
	}
	if err := d.usage.Record(ctx, rec); err != nil {
		d.logger.Warn("usage record failed", zap.Error(err))
	}
}
