package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"xpengine/core"
	"xpengine/engine"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"XPENGINE_REDIS_ADDR"`
	Password     string        `json:"password" env:"XPENGINE_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"XPENGINE_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"XPENGINE_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"XPENGINE_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"XPENGINE_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"XPENGINE_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"XPENGINE_REDIS_WRITE_TIMEOUT"`
	// MaxRetries bounds optimistic transaction retries on a write conflict.
	MaxRetries int `json:"max_retries" env:"XPENGINE_REDIS_MAX_RETRIES"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   5,
	}
}

// Store implements engine.Storage on Redis.
// Data structure:
// - user:{user_id}:snapshot -> JSON blob of core.Snapshot
// - user:{user_id}:ledger -> list of JSON ledger entries in commit order
// - ledger:request:{request_id} -> user id owning the request
// - users -> set of user ids with a snapshot
//
// Each transaction WATCHes the user's keys plus every request key it touches
// and commits with MULTI/EXEC; a conflicting write makes EXEC fail and the
// transaction function runs again.
type Store struct {
	client     *redis.Client
	maxRetries int
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewWithClient(client)
	if config.MaxRetries > 0 {
		s.maxRetries = config.MaxRetries
	}
	return s, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, maxRetries: DefaultConfig().MaxRetries}
}

// WithMaxRetries overrides the conflict retry bound.
func (s *Store) WithMaxRetries(n int) *Store {
	s.maxRetries = n
	return s
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

const usersKey = "users"

func snapshotKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:snapshot", userID)
}

func ledgerKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:ledger", userID)
}

func requestKey(requestID string) string {
	return "ledger:request:" + requestID
}

func (s *Store) InTx(ctx context.Context, user core.UserID, fn func(engine.UserTx) error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &userTx{rtx: rtx, user: user}
			if err := fn(tx); err != nil {
				return err
			}
			return tx.commit(ctx)
		}, snapshotKey(user), ledgerKey(user))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: redis transaction for %s conflicted %d times", core.ErrTransientStorage, user, s.maxRetries)
}

func (s *Store) ListUsers(ctx context.Context) ([]core.UserID, error) {
	ids, err := s.client.SMembers(ctx, usersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	sort.Strings(ids)
	out := make([]core.UserID, len(ids))
	for i, id := range ids {
		out[i] = core.UserID(id)
	}
	return out, nil
}

type userTx struct {
	rtx     *redis.Tx
	user    core.UserID
	snap    *core.Snapshot
	entries []core.LedgerEntry
}

// watchRequest adds the request key to the watch set and reports whether it exists.
func (t *userTx) watchRequest(ctx context.Context, requestID string) (bool, error) {
	key := requestKey(requestID)
	if err := t.rtx.Watch(ctx, key).Err(); err != nil {
		return false, fmt.Errorf("failed to watch request: %w", err)
	}
	n, err := t.rtx.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check request: %w", err)
	}
	return n > 0, nil
}

func (t *userTx) RequestSeen(ctx context.Context, requestID string) (bool, error) {
	for _, e := range t.entries {
		if e.RequestID == requestID {
			return true, nil
		}
	}
	return t.watchRequest(ctx, requestID)
}

const scanChunk = 256

// scanSince visits committed entries from newest to oldest, stopping at the
// first one created before since. The list is in commit order, which tracks
// creation time.
func (t *userTx) scanSince(ctx context.Context, since time.Time, visit func(core.LedgerEntry)) error {
	key := ledgerKey(t.user)
	n, err := t.rtx.LLen(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to read ledger length: %w", err)
	}
	for end := n - 1; end >= 0; end -= scanChunk {
		start := end - scanChunk + 1
		if start < 0 {
			start = 0
		}
		raw, err := t.rtx.LRange(ctx, key, start, end).Result()
		if err != nil {
			return fmt.Errorf("failed to read ledger: %w", err)
		}
		for i := len(raw) - 1; i >= 0; i-- {
			var e core.LedgerEntry
			if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
				return fmt.Errorf("failed to decode ledger entry: %w", err)
			}
			if e.CreatedAt.Before(since) {
				return nil
			}
			visit(e)
		}
	}
	return nil
}

func (t *userTx) DayTotals(ctx context.Context, dayStart time.Time) (core.DayTotals, error) {
	var d core.DayTotals
	add := func(e core.LedgerEntry) {
		if core.InDay(e.CreatedAt, dayStart) {
			d.Add(e)
		}
	}
	if err := t.scanSince(ctx, dayStart, add); err != nil {
		return core.DayTotals{}, err
	}
	for _, e := range t.entries {
		add(e)
	}
	return d, nil
}

func (t *userTx) XPSince(ctx context.Context, since time.Time) (int64, error) {
	var sum int64
	add := func(e core.LedgerEntry) {
		if !e.CreatedAt.Before(since) {
			sum += e.XPDelta
		}
	}
	if err := t.scanSince(ctx, since, add); err != nil {
		return 0, err
	}
	for _, e := range t.entries {
		add(e)
	}
	return sum, nil
}

func (t *userTx) Load(ctx context.Context) (core.Snapshot, bool, error) {
	if t.snap != nil {
		return *t.snap, true, nil
	}
	data, err := t.rtx.Get(ctx, snapshotKey(t.user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Snapshot{}, false, nil
	}
	if err != nil {
		return core.Snapshot{}, false, fmt.Errorf("failed to load snapshot: %w", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return core.Snapshot{}, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (t *userTx) Save(_ context.Context, snap core.Snapshot) error {
	snap.UserID = t.user
	t.snap = &snap
	return nil
}

func (t *userTx) Append(ctx context.Context, e core.LedgerEntry) error {
	if e.RequestID != "" {
		seen, err := t.RequestSeen(ctx, e.RequestID)
		if err != nil {
			return err
		}
		if seen {
			return core.ErrDuplicateRequest
		}
	}
	e.UserID = t.user
	t.entries = append(t.entries, e)
	return nil
}

func (t *userTx) commit(ctx context.Context) error {
	if t.snap == nil && len(t.entries) == 0 {
		return nil
	}
	var snapData []byte
	if t.snap != nil {
		b, err := json.Marshal(t.snap)
		if err != nil {
			return err
		}
		snapData = b
	}
	rows := make([]interface{}, 0, len(t.entries))
	for _, e := range t.entries {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		rows = append(rows, b)
	}
	_, err := t.rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if snapData != nil {
			pipe.Set(ctx, snapshotKey(t.user), snapData, 0)
			pipe.SAdd(ctx, usersKey, string(t.user))
		}
		if len(rows) > 0 {
			pipe.RPush(ctx, ledgerKey(t.user), rows...)
		}
		for _, e := range t.entries {
			if e.RequestID != "" {
				pipe.Set(ctx, requestKey(e.RequestID), string(t.user), 0)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return err
}

var _ engine.Storage = (*Store)(nil)
