package backplane

import (
	"context"
	"encoding/json"
	"sync"

	"PPresence/logger"
	"PPresence/tools/safe"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis relays envelopes over Redis pub/sub channels `<prefix>.<topic>`.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	origin string

	mu   sync.Mutex
	subs []*redis.PubSub
}

func NewRedis(rdb redis.UniversalClient, prefix, origin string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, origin: origin}
}

func (r *Redis) Publish(ctx context.Context, topic string, env Envelope) error {
	stamp(&env, r.origin)
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "backplane: marshal envelope")
	}
	if err := r.rdb.Publish(ctx, Subject(r.prefix, topic), b).Err(); err != nil {
		return errors.Wrap(err, "backplane: redis publish")
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server.
func (r *Redis) Subscribe(topic string, h Handler) error {
	ctx := context.Background()
	channel := Subject(r.prefix, topic)
	ps := r.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return errors.Wrapf(err, "backplane: subscribe %s", channel)
	}
	r.mu.Lock()
	r.subs = append(r.subs, ps)
	r.mu.Unlock()

	ch := ps.Channel()
	safe.Go("backplane.redis."+topic, func() {
		for m := range ch {
			var env Envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				logger.Warn("[backplane] bad envelope", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			safe.Run("backplane.redis.handler", func() { h(ctx, env) })
		}
	})
	return nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, ps := range r.subs {
		if err := ps.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.subs = nil
	return first
}
