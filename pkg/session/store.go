package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/observability"
)

// DefaultTTL is how long an idle session survives. Every read and write
// slides the expiry forward, so a session only dies after a full TTL of
// silence.
const DefaultTTL = time.Hour

// DefaultKeyPrefix namespaces session keys in the shared keyspace.
const DefaultKeyPrefix = "chimera:context:"

// Store reads and writes session contexts in Redis.
type Store struct {
	client *redis.Client
	o11y   observability.Observability
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithTTL overrides the sliding session TTL.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewStore wires a session store onto an established Redis client.
func NewStore(client *redis.Client, o11y observability.Observability, opts ...StoreOption) *Store {
	s := &Store{
		client: client,
		o11y:   o11y,
		ttl:    DefaultTTL,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

// Get loads a session's context. A hit slides the TTL forward; an unknown
// session returns (nil, nil).
func (s *Store) Get(ctx context.Context, sessionID string) (*Context, error) {
	data, err := s.client.GetEx(ctx, s.key(sessionID), s.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("load session context", err)
	}
	var sc Context
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, errdefs.NewDataProcessing("stored session context is not valid JSON").
			WithDetail("session_id", sessionID).
			WithCause(err)
	}
	return &sc, nil
}

// Save writes a session's context and restarts its TTL. LastUpdated is
// stamped on every save.
func (s *Store) Save(ctx context.Context, sessionID string, sc *Context) error {
	sc.SessionID = sessionID
	sc.LastUpdated = s.now()
	data, err := json.Marshal(sc)
	if err != nil {
		return errdefs.NewDataProcessing("encode session context").
			WithDetail("session_id", sessionID).
			WithCause(err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		return storeErr("save session context", err)
	}
	s.o11y.Logger().Debug(ctx, "session context saved",
		observability.String("session_id", sessionID),
		observability.Int("history", len(sc.QueryHistory)),
	)
	return nil
}

// Update applies a partial mutation to a session's context and saves the
// result. The context is created on first use.
func (s *Store) Update(ctx context.Context, sessionID string, apply func(*Context)) (*Context, error) {
	sc, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		sc = &Context{SessionID: sessionID, CreatedAt: s.now()}
	}
	apply(sc)
	if err := s.Save(ctx, sessionID, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// AppendQuery records a handled query in the session's history, creating
// the session if this is its first query. Only the newest records are
// kept; history never grows past its cap.
func (s *Store) AppendQuery(ctx context.Context, sessionID, query string, intent Intent, entities []Entity) (*Context, error) {
	return s.Update(ctx, sessionID, func(sc *Context) {
		sc.QueryHistory = append(sc.QueryHistory, QueryRecord{
			Query:     query,
			Intent:    intent,
			Entities:  entities,
			Timestamp: s.now(),
		})
		if len(sc.QueryHistory) > historyCap {
			sc.QueryHistory = sc.QueryHistory[len(sc.QueryHistory)-historyCap:]
		}
	})
}

// ExtractForQuery distills the context a new query in this session should
// inherit: the previous record, entities recurring across the last few
// queries, the most recent time range, and recently requested metrics.
// An unknown session yields a zero Extracted.
func (s *Store) ExtractForQuery(ctx context.Context, sessionID string) (Extracted, error) {
	sc, err := s.Get(ctx, sessionID)
	if err != nil {
		return Extracted{}, err
	}
	if sc == nil {
		return Extracted{}, nil
	}
	return sc.extract(), nil
}

// Clear forgets a session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return storeErr("clear session context", err)
	}
	s.o11y.Logger().Debug(ctx, "session context cleared",
		observability.String("session_id", sessionID),
	)
	return nil
}

// ExtendTTL restarts the session's TTL without touching its content.
func (s *Store) ExtendTTL(ctx context.Context, sessionID string) error {
	if err := s.client.Expire(ctx, s.key(sessionID), s.ttl).Err(); err != nil {
		return storeErr("extend session ttl", err)
	}
	return nil
}

func storeErr(action string, err error) error {
	return errdefs.NewSystem(action + " failed").
		WithCode(errdefs.CodeDatabaseError).
		WithCause(err)
}
