package natsx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestNatsxChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) NatsxMiddleware {
		return func(next NatsxHandler) NatsxHandler {
			return func(ctx context.Context, msg NatsxMessage) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		order = append(order, "handler")
		return nil
	}, mw("a"), mw("b"))

	require.NoError(t, h(context.Background(), NatsxMessage{}))
	require.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestNatsxRecover(t *testing.T) {
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		panic("boom")
	}, NatsxRecover())
	require.Error(t, h(context.Background(), NatsxMessage{Subject: "x"}))
}

func TestNatsxIdemMiddleware(t *testing.T) {
	calls := 0
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		calls++
		return nil
	}, NatsxIdemMiddleware(NewMemIdem(time.Minute), time.Minute))

	msg := NatsxMessage{Subject: "s", Data: []byte("a"), Header: map[string]string{"Nats-Msg-Id": "1"}}
	require.NoError(t, h(context.Background(), msg))
	require.NoError(t, h(context.Background(), msg))
	require.Equal(t, 1, calls)

	msg.Header["Nats-Msg-Id"] = "2"
	require.NoError(t, h(context.Background(), msg))
	require.Equal(t, 2, calls)
}

func TestRegisterRoute(t *testing.T) {
	c := newClient(NatsxConfig{}, nil)
	require.Error(t, c.RegisterRoute(NatsxRoute{Biz: "x"}))
	require.NoError(t, c.RegisterRoute(NatsxRoute{Biz: "x", Subject: "p.x"}))

	r, ok := c.route("x")
	require.True(t, ok)
	require.Equal(t, "p.x", r.Subject)
}

func TestPublishUnknownRoute(t *testing.T) {
	p := NewNatsxProducer(newClient(NatsxConfig{}, nil))
	require.Error(t, p.Publish(context.Background(), "missing", nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.True(t, errors.Is(p.Publish(ctx, "missing", nil, nil), context.Canceled))
}

func TestHeaderToMap(t *testing.T) {
	require.Nil(t, headerToMap(nil))
	h := nats.Header{}
	h.Add("Nats-Msg-Id", "abc")
	h.Add("Nats-Msg-Id", "ignored")
	require.Equal(t, map[string]string{"Nats-Msg-Id": "abc"}, headerToMap(h))
}

func TestNewClientRequiresServers(t *testing.T) {
	_, err := NewNatsxClient(NatsxConfig{})
	require.Error(t, err)
}

func TestManagerNil(t *testing.T) {
	var m *NatsManager
	require.NoError(t, m.Close())
	require.Error(t, m.RegisterRoute(NatsxRoute{Biz: "a", Subject: "b"}))
}

func TestRedisIdem(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewRedisIdem(rdb, "idem:", time.Minute)
	seen, err := store.SeenOnce("m1", 0)
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = store.SeenOnce("m1", 0)
	require.NoError(t, err)
	require.True(t, seen)

	mr.FastForward(2 * time.Minute)
	seen, err = store.SeenOnce("m1", 0)
	require.NoError(t, err)
	require.False(t, seen)
}
