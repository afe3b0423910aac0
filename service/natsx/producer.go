package natsx

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish 按 Biz 路由发送 (core NATS, fire-and-forget)
func (p *NatsxProducer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, ok := p.c.route(biz)
	if !ok {
		return errors.Errorf("route not found: %s", biz)
	}
	msg := nats.NewMsg(r.Subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	if err := p.c.nc.PublishMsg(msg); err != nil {
		return errors.Wrapf(err, "publish %s", r.Subject)
	}
	return nil
}
