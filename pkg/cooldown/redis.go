package cooldown

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"promo-autoresponder/pkg/constants"
	"promo-autoresponder/pkg/metrics"
)

// RedisStore keeps greeted senders in a sorted set scored by expiry time in
// milliseconds. Once-mode entries are scored +inf.
type RedisStore struct {
	rdb     *redis.Client
	key     string
	ttl     time.Duration
	once    bool
	now     Clock
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func NewRedisStore(rdb *redis.Client, opts Options, logger *logrus.Logger, metrics *metrics.Metrics) *RedisStore {
	return &RedisStore{
		rdb:     rdb,
		key:     constants.GreetedSendersKey,
		ttl:     opts.TTL,
		once:    opts.Once,
		now:     opts.clock(),
		logger:  logger,
		metrics: metrics,
	}
}

func (s *RedisStore) observe(operation string, start time.Time) {
	s.metrics.RedisOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Contains reports whether sender has a live entry. Expired entries found on
// lookup are removed.
func (s *RedisStore) Contains(ctx context.Context, sender string) (bool, error) {
	defer s.observe("contains", time.Now())

	score, err := s.rdb.ZScore(ctx, s.key, sender).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up greeted sender: %w", err)
	}

	if score > float64(s.now().UnixMilli()) {
		return true, nil
	}

	if err := s.rdb.ZRem(ctx, s.key, sender).Err(); err != nil {
		s.logger.WithError(err).WithField("sender", sender).Warn("Failed to evict expired greeted sender")
	}
	return false, nil
}

func (s *RedisStore) Mark(ctx context.Context, sender string) error {
	defer s.observe("mark", time.Now())

	score := math.Inf(1)
	if !s.once {
		score = float64(s.now().Add(s.ttl).UnixMilli())
	}

	if err := s.rdb.ZAdd(ctx, s.key, &redis.Z{Score: score, Member: sender}).Err(); err != nil {
		return fmt.Errorf("failed to mark greeted sender: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"sender": sender,
		"once":   s.once,
	}).Debug("Marked sender as greeted")

	return nil
}

func (s *RedisStore) Release(ctx context.Context, sender string) error {
	defer s.observe("release", time.Now())

	if err := s.rdb.ZRem(ctx, s.key, sender).Err(); err != nil {
		return fmt.Errorf("failed to release greeted sender: %w", err)
	}
	return nil
}

// Sweep removes every entry whose expiry is at or before now
func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	defer s.observe("sweep", time.Now())

	cutoff := strconv.FormatInt(s.now().UnixMilli(), 10)
	removed, err := s.rdb.ZRemRangeByScore(ctx, s.key, "-inf", cutoff).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to sweep greeted senders: %w", err)
	}

	if removed > 0 {
		s.logger.WithField("removed_count", removed).Debug("Swept expired greeted senders")
	}

	return int(removed), nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	defer s.observe("len", time.Now())

	min := "(" + strconv.FormatInt(s.now().UnixMilli(), 10)
	count, err := s.rdb.ZCount(ctx, s.key, min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count greeted senders: %w", err)
	}
	return int(count), nil
}
