package presence

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "presence:"

	// DefaultTTL is how long a member survives without a heartbeat.
	DefaultTTL = 30 * time.Second

	cleanupTimeout = 5 * time.Second
)

// Redis is a Registry shared by every replica. Each scope is a sorted set of
// "<instance>|<user>" members scored by their last heartbeat in unix millis.
// Connection counts stay in process; a replica that dies stops beating and
// its members are pruned on the next read.
type Redis struct {
	cli      *redis.Client
	instance string
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger

	mu    sync.Mutex
	local map[string]map[string]int64

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewRedis connects to url, verifies the connection and starts the heartbeat.
func NewRedis(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedis(cli, ttl, time.Now, logger), nil
}

func newRedis(cli *redis.Client, ttl time.Duration, now func() time.Time, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Redis{
		cli:      cli,
		instance: uuid.NewString(),
		ttl:      ttl,
		now:      now,
		log:      logger,
		local:    make(map[string]map[string]int64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.heartbeatLoop()
	return r
}

func (r *Redis) member(userID string) string {
	return r.instance + "|" + userID
}

func (r *Redis) score() float64 {
	return float64(r.now().UnixMilli())
}

func (r *Redis) Join(ctx context.Context, scope, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.local[scope]
	if !ok {
		members = make(map[string]int64)
		r.local[scope] = members
	}
	members[userID]++

	key := keyPrefix + scope
	pipe := r.cli.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: r.score(), Member: r.member(userID)})
	pipe.Expire(ctx, key, 2*r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Leave(ctx context.Context, scope, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.local[scope]
	if !ok || members[userID] == 0 {
		return nil
	}
	members[userID]--
	if members[userID] > 0 {
		return nil
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.local, scope)
	}
	return r.cli.ZRem(ctx, keyPrefix+scope, r.member(userID)).Err()
}

func (r *Redis) Members(ctx context.Context, scope string) ([]string, error) {
	key := keyPrefix + scope
	cutoff := r.now().Add(-r.ttl).UnixMilli()
	if err := r.cli.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, err
	}
	raw, err := r.cli.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(raw))
	for _, m := range raw {
		if _, userID, ok := strings.Cut(m, "|"); ok {
			counts[userID]++
		}
	}
	return sortedKeys(counts), nil
}

// Heartbeat refreshes every member held by this instance.
func (r *Redis) Heartbeat(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.local) == 0 {
		return nil
	}
	score := r.score()
	pipe := r.cli.Pipeline()
	for scope, members := range r.local {
		key := keyPrefix + scope
		for userID := range members {
			pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: r.member(userID)})
		}
		pipe.Expire(ctx, key, 2*r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) heartbeatLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			if err := r.Heartbeat(ctx); err != nil {
				r.log.Warn("presence heartbeat failed", "instance", r.instance, "error", err)
			}
			cancel()
		}
	}
}

// Close stops the heartbeat, removes this instance's members and closes the
// client. Later Leave calls are no-ops.
func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		<-r.done

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		r.mu.Lock()
		pipe := r.cli.Pipeline()
		for scope, members := range r.local {
			for userID := range members {
				pipe.ZRem(ctx, keyPrefix+scope, r.member(userID))
			}
		}
		r.local = make(map[string]map[string]int64)
		r.mu.Unlock()

		if pipe.Len() > 0 {
			if _, execErr := pipe.Exec(ctx); execErr != nil {
				err = fmt.Errorf("redis presence cleanup: %w", execErr)
			}
		}
		if closeErr := r.cli.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}
