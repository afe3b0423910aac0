package backplane

import (
	"context"
	"encoding/json"
	"time"

	"PPresence/logger"
	"PPresence/service/natsx"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	msgIDHeader = "Nats-Msg-Id"
	dedupTTL    = 2 * time.Minute
)

// natsBus is the slice of natsx.NatsManager the backplane needs.
type natsBus interface {
	RegisterRoute(r natsx.NatsxRoute) error
	Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error
	Subscribe(biz string, h natsx.NatsxHandler) error
	Close() error
}

// NATS relays envelopes over core NATS subjects `<prefix>.<topic>`.
type NATS struct {
	bus    natsBus
	prefix string
	origin string
}

// NewNATS connects and registers broadcast and revoke routes. Duplicate
// redeliveries are dropped by message id; a nil idem keeps ids in memory.
func NewNATS(cfg natsx.NatsxConfig, prefix, origin string, idem natsx.IdemStore) (*NATS, error) {
	if idem == nil {
		idem = natsx.NewMemIdem(dedupTTL)
	}
	m, err := natsx.NewNatsManager(cfg,
		natsx.NatsxRecover(),
		natsx.NatsxLogErrors(time.Second),
		natsx.NatsxIdemMiddleware(idem, dedupTTL),
	)
	if err != nil {
		return nil, err
	}
	n, err := newNATS(m, prefix, origin)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return n, nil
}

func newNATS(bus natsBus, prefix, origin string) (*NATS, error) {
	for _, topic := range []string{TopicBroadcast, TopicRevoke} {
		if err := bus.RegisterRoute(natsx.NatsxRoute{Biz: topic, Subject: Subject(prefix, topic)}); err != nil {
			return nil, err
		}
	}
	return &NATS{bus: bus, prefix: prefix, origin: origin}, nil
}

func (n *NATS) Publish(ctx context.Context, topic string, env Envelope) error {
	stamp(&env, n.origin)
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "backplane: marshal envelope")
	}
	return n.bus.Publish(ctx, topic, b, map[string]string{msgIDHeader: env.ID})
}

func (n *NATS) Subscribe(topic string, h Handler) error {
	return n.bus.Subscribe(topic, func(ctx context.Context, msg natsx.NatsxMessage) error {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return errors.Wrapf(err, "backplane: decode %s", msg.Subject)
		}
		if env.Origin == n.origin {
			return nil
		}
		h(ctx, env)
		return nil
	})
}

func (n *NATS) Close() error {
	logger.Info("[backplane] closing nats", zap.String("prefix", n.prefix))
	return n.bus.Close()
}
