// Package conversation tracks per-session turn history so multi-turn
// requests can be expanded into the full context sent upstream.
package conversation

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/pario-ai/google-proxy/pkg/clock"
	"github.com/pario-ai/google-proxy/pkg/codec"
	"github.com/pario-ai/google-proxy/pkg/models"
	"github.com/pario-ai/google-proxy/pkg/store"
)

// MaxIDLength is the longest accepted session id.
const MaxIDLength = 128

// Session is the ordered history of one conversation.
type Session struct {
	ID        string        `cbor:"id"`
	Turns     []models.Turn `cbor:"turns"`
	UpdatedAt time.Time     `cbor:"updated_at"`
}

// Store holds conversation sessions for one actor.
type Store struct {
	mu       sync.Mutex
	sessions *simplelru.LRU[string, *Session]

	store     store.Store
	namespace string
	clock     clock.Clock
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithStore persists sessions under "<namespace>/session/<id>".
func WithStore(s store.Store, namespace string) Option {
	return func(cs *Store) {
		cs.store = s
		cs.namespace = namespace
	}
}

// WithClock sets the clock used for UpdatedAt.
func WithClock(c clock.Clock) Option {
	return func(cs *Store) { cs.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cs *Store) { cs.logger = l }
}

// New creates a Store holding at most maxSessions sessions in memory,
// evicting the least recently used. Zero means unbounded.
func New(maxSessions int, opts ...Option) *Store {
	cs := &Store{
		clock:  clock.Real(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cs)
	}
	size := maxSessions
	if size <= 0 {
		size = math.MaxInt
	}
	l, err := simplelru.NewLRU[string, *Session](size, cs.onEvict)
	if err != nil {
		panic(err)
	}
	cs.sessions = l
	return cs
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidateID checks that id is non-empty, at most MaxIDLength characters
// and printable.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("session_id must not be empty")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("session_id longer than %d characters", MaxIDLength)
	}
	for _, r := range id {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return fmt.Errorf("session_id contains non-printable character %q", r)
		}
	}
	return nil
}

func (cs *Store) key(id string) string {
	if cs.namespace == "" {
		return store.Key("session", id)
	}
	return store.Key(cs.namespace, "session", id)
}

func (cs *Store) onEvict(id string, _ *Session) {
	cs.logger.Debug("session evicted", zap.String("session_id", id))
	if cs.store == nil {
		return
	}
	if err := cs.store.Delete(context.Background(), cs.key(id)); err != nil {
		cs.logger.Warn("session store delete failed", zap.String("session_id", id), zap.Error(err))
	}
}

// peek returns the session for id without touching recency. A session found
// only in the store is returned but not cached in memory. Must be called with
// cs.mu held.
func (cs *Store) peek(ctx context.Context, id string) *Session {
	if s, ok := cs.sessions.Peek(id); ok {
		return s
	}
	return cs.load(ctx, id)
}

// load reads a persisted session. Must be called with cs.mu held.
func (cs *Store) load(ctx context.Context, id string) *Session {
	if cs.store == nil {
		return nil
	}
	data, ok, err := cs.store.Get(ctx, cs.key(id))
	if err != nil {
		cs.logger.Warn("session load failed", zap.String("session_id", id), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var s Session
	if err := codec.Unmarshal(data, &s); err != nil {
		cs.logger.Warn("session decode failed", zap.String("session_id", id), zap.Error(err))
		return nil
	}
	return &s
}

// Context returns a copy of the turns recorded for id. Unknown sessions
// yield an empty history. Reading leaves recency and membership unchanged.
func (cs *Store) Context(ctx context.Context, id string) []models.Turn {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	s := cs.peek(ctx, id)
	if s == nil {
		return nil
	}
	out := make([]models.Turn, len(s.Turns))
	copy(out, s.Turns)
	return out
}

// Append records the caller turn followed by the model turn, creating the
// session if it does not exist. It is the only operation that marks a
// session as recently used or can evict another one.
func (cs *Store) Append(ctx context.Context, id string, caller, model models.Turn) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	s, ok := cs.sessions.Get(id)
	if !ok {
		s = cs.load(ctx, id)
		if s == nil {
			s = &Session{ID: id}
			cs.logger.Debug("session created", zap.String("session_id", id))
		}
		cs.sessions.Add(id, s)
	}
	s.Turns = append(s.Turns, caller, model)
	s.UpdatedAt = cs.clock.Now()
	cs.persist(ctx, s)
}

// Len returns the number of sessions held in memory.
func (cs *Store) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.sessions.Len()
}

func (cs *Store) persist(ctx context.Context, s *Session) {
	if cs.store == nil {
		return
	}
	data, err := codec.Marshal(s)
	if err != nil {
		cs.logger.Warn("session encode failed", zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	if err := cs.store.Put(ctx, cs.key(s.ID), data); err != nil {
		cs.logger.Warn("session store put failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// ListStored decodes every session persisted under namespace in s, ordered
// by id. Entries that fail to decode are skipped.
func ListStored(ctx context.Context, s store.Store, namespace string) ([]Session, error) {
	prefix := store.Key("session") + "/"
	if namespace != "" {
		prefix = store.Key(namespace, "session") + "/"
	}
	kvs, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(kvs))
	for _, kv := range kvs {
		var sess Session
		if err := codec.Unmarshal(kv.Value, &sess); err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}
