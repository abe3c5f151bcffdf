package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix    = "zatca:lock:"
	pollInterval = 50 * time.Millisecond
	maxPoll      = 500 * time.Millisecond
)

// releaseScript borra la clave solo si sigue siendo nuestra.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisLocker bloqueo distribuido con SET NX PX y liberación verificada por token.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisLocker construye el locker. ttl acota cuánto puede quedar tomado si el proceso muere.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, log zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, log: log}
}

// NewRedisClient cliente Redis a partir de host:port (acepta redis:// o rediss://).
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if opts, err := redis.ParseURL(addr); err == nil {
		if password != "" {
			opts.Password = password
		}
		opts.DB = db
		return redis.NewClient(opts), nil
	}
	if addr == "" {
		return nil, errors.New("lock: REDIS_ADDR vacío")
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), nil
}

// Lock intenta tomar key hasta lograrlo o hasta que ctx termine.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := keyPrefix + key
	wait := pollInterval
	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: redis SET NX %s: %w", full, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		if wait *= 2; wait > maxPoll {
			wait = maxPoll
		}
	}

	return func() {
		// El ctx del llamador puede estar cancelado; la liberación usa uno propio.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := releaseScript.Run(rctx, l.client, []string{full}, token).Int()
		if err != nil {
			l.log.Warn().Err(err).Str("key", full).Msg("lock: no se pudo liberar; expira por TTL")
			return
		}
		if n == 0 {
			l.log.Warn().Str("key", full).Msg("lock: el bloqueo expiró antes de liberarse")
		}
	}, nil
}
