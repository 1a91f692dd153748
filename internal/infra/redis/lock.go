package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fintrackhq/fintrack/pkg/logger"
)

const (
	// DefaultLockTTL bounds how long an ingestion can hold its lock. A
	// crashed worker frees the hash after this long at worst.
	DefaultLockTTL = 2 * time.Minute

	// lockKeyPrefix namespaces ingestion locks in the keyspace
	lockKeyPrefix = "ingest:lock:"
)

// releaseScript deletes the lock only if the caller still owns it, so an
// expired lock taken over by another worker is never released by the
// original holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IngestLock is a Redis-backed per-document lock. Each key is the content
// hash of the document being ingested.
type IngestLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewIngestLock creates an ingestion lock with the default TTL
func NewIngestLock(client *redis.Client, log *logger.Logger) *IngestLock {
	return &IngestLock{
		client: client,
		ttl:    DefaultLockTTL,
		logger: log.WithField("component", "ingest_lock"),
	}
}

// TryLock attempts to take the lock for a key without blocking. On success
// the returned release function frees the lock; it is safe to call after
// the TTL has expired.
func (l *IngestLock) TryLock(ctx context.Context, key string) (func(), bool, error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Release runs during cleanup; a fresh context keeps it working
		// even when the ingestion context is already canceled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.WithError(err).Warn("failed to release ingest lock", "key", key)
		}
	}
	return release, true, nil
}
