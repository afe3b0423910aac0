package natsx

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NatsxConsumer 消费端
type NatsxConsumer struct {
	c   *NatsxClient
	mws []NatsxMiddleware
}

func NewNatsxConsumer(c *NatsxClient, mws ...NatsxMiddleware) *NatsxConsumer {
	return &NatsxConsumer{c: c, mws: mws}
}

// Subscribe attaches h to the biz route. An empty Queue means every node gets every
// message (broadcast), which is what the backplane relies on.
func (cs *NatsxConsumer) Subscribe(biz string, h NatsxHandler) error {
	r, ok := cs.c.route(biz)
	if !ok {
		return errors.Errorf("route not found: %s", biz)
	}
	h = NatsxChain(h, cs.mws...)

	cb := func(m *nats.Msg) {
		_ = h(context.Background(), toMessage(m))
	}

	var (
		sub *nats.Subscription
		err error
	)
	if r.Queue == "" {
		sub, err = cs.c.nc.Subscribe(r.Subject, cb)
	} else {
		sub, err = cs.c.nc.QueueSubscribe(r.Subject, r.Queue, cb)
	}
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", r.Subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)

	cs.c.mu.Lock()
	if old, ok := cs.c.subs[biz]; ok {
		_ = old.Unsubscribe()
	}
	cs.c.subs[biz] = sub
	cs.c.mu.Unlock()
	return nil
}

func toMessage(m *nats.Msg) NatsxMessage {
	return NatsxMessage{
		Subject: m.Subject,
		Data:    append([]byte(nil), m.Data...),
		Header:  headerToMap(m.Header),
	}
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
