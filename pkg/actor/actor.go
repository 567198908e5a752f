// Package actor hosts one dispatcher behind a mailbox. Messages are handled
// strictly one at a time, and all mutable state (cache, sessions, effective
// configuration) belongs to a single actor instance.
package actor

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/pario-ai/google-proxy/pkg/cache"
	"github.com/pario-ai/google-proxy/pkg/clock"
	"github.com/pario-ai/google-proxy/pkg/config"
	"github.com/pario-ai/google-proxy/pkg/conversation"
	"github.com/pario-ai/google-proxy/pkg/dispatch"
	"github.com/pario-ai/google-proxy/pkg/errs"
	"github.com/pario-ai/google-proxy/pkg/models"
	"github.com/pario-ai/google-proxy/pkg/retry"
	"github.com/pario-ai/google-proxy/pkg/store"
	"github.com/pario-ai/google-proxy/pkg/upstream"
)

// ErrStopped is returned by Ask once the actor has stopped.
var ErrStopped = errs.New(errs.KindCancelled, "actor stopped", nil)

// Deps are the collaborators supplied by the host process. All are optional.
type Deps struct {
	// Store persists cache entries and sessions under the actor's store id.
	Store store.Store
	// Usage receives a record for every successful request.
	Usage dispatch.UsageRecorder
	// Client overrides the Gemini HTTP client.
	Client            upstream.Client
	BaseURL           string
	RequestsPerSecond float64
	Clock             clock.Clock
	Logger            *zap.Logger
	// Getenv reads the API key. Defaults to os.Getenv.
	Getenv func(string) string
}

type message struct {
	ctx   context.Context
	req   models.Request
	sink  dispatch.ChunkSink
	reply chan result
}

type result struct {
	resp *models.Response
	err  error
}

// Actor is a single proxy instance.
type Actor struct {
	id         string
	storeID    string
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger

	mailbox chan message
	stopped chan struct{}
}

// New initializes an actor from its JSON init payload. A missing API key or
// malformed configuration is a ConfigError.
func New(id string, initPayload []byte, deps Deps) (*Actor, error) {
	payload, err := config.ParseInit(initPayload)
	if err != nil {
		return nil, err
	}
	return NewFromPayload(id, payload, deps)
}

// NewFromPayload initializes an actor from an already decoded payload.
func NewFromPayload(id string, payload *config.InitPayload, deps Deps) (*Actor, error) {
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	eff, err := config.Resolve(payload.Config, deps.Getenv)
	if err != nil {
		return nil, err
	}

	storeID := id
	if payload.StoreID != nil && *payload.StoreID != "" {
		storeID = *payload.StoreID
	}
	logger := deps.Logger.With(zap.String("actor", id), zap.String("store_id", storeID))

	cacheOpts := []cache.Option{cache.WithClock(deps.Clock), cache.WithLogger(logger)}
	sessionOpts := []conversation.Option{conversation.WithClock(deps.Clock), conversation.WithLogger(logger)}
	if deps.Store != nil {
		cacheOpts = append(cacheOpts, cache.WithStore(deps.Store, storeID))
		sessionOpts = append(sessionOpts, conversation.WithStore(deps.Store, storeID))
	}
	respCache := cache.New(eff.MaxCacheSize, cacheOpts...)
	if err := respCache.Restore(context.Background()); err != nil {
		logger.Warn("cache restore failed, starting empty", zap.Error(err))
	}
	sessions := conversation.New(eff.MaxSessions, sessionOpts...)

	client := deps.Client
	if client == nil {
		client = upstream.NewGemini(eff.APIKey,
			upstream.WithBaseURL(deps.BaseURL),
			upstream.WithRateLimit(deps.RequestsPerSecond, 1),
			upstream.WithLogger(logger),
		)
	}

	controller := retry.New(eff.Retry,
		retry.WithClock(deps.Clock),
		retry.WithLogger(logger),
		retry.WithObserver(func(t retry.Transition) {
			if t.State == retry.StateDelaying {
				logger.Info("upstream attempt failed, backing off",
					zap.Uint("attempt", t.Attempt),
					zap.Duration("delay", t.Delay),
					zap.Error(t.Err),
				)
			}
		}),
	)

	dispatchOpts := []dispatch.Option{
		dispatch.WithCache(respCache),
		dispatch.WithSessions(sessions),
		dispatch.WithRetry(controller),
		dispatch.WithLogger(logger),
	}
	if deps.Usage != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithUsage(deps.Usage, storeID))
	}
	d := dispatch.New(eff, client, dispatchOpts...)

	logger.Info("actor initialized",
		zap.String("default_model", eff.DefaultModel),
		zap.Int("max_cache_size", eff.MaxCacheSize),
		zap.Duration("timeout", eff.Timeout),
		zap.Uint("max_retries", eff.Retry.MaxRetries),
	)

	return &Actor{
		id:         id,
		storeID:    storeID,
		dispatcher: d,
		logger:     logger,
		mailbox:    make(chan message),
		stopped:    make(chan struct{}),
	}, nil
}

// ID returns the actor id.
func (a *Actor) ID() string { return a.id }

// StoreID returns the persistence namespace.
func (a *Actor) StoreID() string { return a.storeID }

// Config returns the effective configuration.
func (a *Actor) Config() config.Effective { return a.dispatcher.Config() }

// Models returns the model catalog.
func (a *Actor) Models() []models.ModelInfo { return a.dispatcher.ListModels() }

// CacheStats returns response cache metrics.
func (a *Actor) CacheStats() models.CacheStats { return a.dispatcher.CacheStats() }

// Run processes the mailbox until ctx is cancelled. Cancelling ctx also
// cancels the request in flight.
func (a *Actor) Run(ctx context.Context) error {
	defer close(a.stopped)
	a.logger.Debug("actor running")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("actor stopping")
			return ctx.Err()
		case m := <-a.mailbox:
			a.handle(ctx, m)
		}
	}
}

func (a *Actor) handle(runCtx context.Context, m message) {
	ctx, cancel := context.WithCancel(m.ctx)
	stop := context.AfterFunc(runCtx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	resp, err := a.dispatcher.Handle(ctx, m.req, m.sink)
	m.reply <- result{resp: resp, err: err}
}

// Ask delivers req to the actor and waits for its reply. Chunks of a
// streaming request are passed to sink before Ask returns.
func (a *Actor) Ask(ctx context.Context, req models.Request, sink dispatch.ChunkSink) (*models.Response, error) {
	m := message{ctx: ctx, req: req, sink: sink, reply: make(chan result, 1)}

	select {
	case a.mailbox <- m:
	case <-a.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, errs.New(errs.KindCancelled, "request cancelled before dispatch", ctx.Err())
	}

	// Once accepted the message is always answered: cancellation of ctx or
	// of the actor reaches the dispatcher through the merged context.
	r := <-m.reply
	return r.resp, r.err
}

// IsStopped reports whether err came from a stopped actor.
func IsStopped(err error) bool {
	return errors.Is(err, ErrStopped)
}
