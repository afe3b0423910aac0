package gateway

import (
	"context"
	"encoding/json"

	"PPresence/logger"
	"PPresence/tools/decode"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// HandlerFunc handles one client event for the connection that sent it.
type HandlerFunc func(ctx context.Context, c *Conn, data map[string]any) error

type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func newDispatcher(g *Gateway) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]HandlerFunc)}
	d.Register(EventMarkRead, g.handleMarkRead)
	d.Register(EventMarkAllRead, g.handleMarkAllRead)
	return d
}

func (d *Dispatcher) Register(event string, h HandlerFunc) { d.handlers[event] = h }

// Dispatch decodes raw and runs its handler. Unknown events are logged and ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Conn, raw []byte) error {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return errors.Wrap(err, "bad frame")
	}
	h, ok := d.handlers[f.Event]
	if !ok {
		logger.Info("[gateway] unknown client event", zap.String("event", f.Event), zap.String("conn", c.ID))
		return nil
	}
	data := map[string]any{}
	if len(f.Data) > 0 && string(f.Data) != "null" {
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return errors.Wrapf(err, "bad %s payload", f.Event)
		}
	}
	return h(ctx, c, data)
}

type markReadReq struct {
	NotificationID int64 `json:"notificationId"`
}

func (g *Gateway) handleMarkRead(ctx context.Context, c *Conn, data map[string]any) error {
	req, err := decode.DecodeMap[markReadReq](data)
	if err != nil {
		return errors.Wrap(err, "mark-read payload")
	}
	if req.NotificationID <= 0 {
		return nil
	}
	ioCtx, cancel := g.ioCtx(ctx)
	defer cancel()
	changed, err := g.deps.Inbox.MarkRead(ioCtx, c.UserID, req.NotificationID, g.now())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	count, err := g.deps.Inbox.UnreadCount(ioCtx, c.UserID)
	if err != nil {
		return err
	}
	g.sendTo(c, EventUnreadCount, UnreadCount{Count: count})
	return nil
}

func (g *Gateway) handleMarkAllRead(ctx context.Context, c *Conn, _ map[string]any) error {
	ioCtx, cancel := g.ioCtx(ctx)
	defer cancel()
	if _, err := g.deps.Inbox.MarkAllRead(ioCtx, c.UserID, g.now()); err != nil {
		return err
	}
	g.sendTo(c, EventUnreadCount, UnreadCount{Count: 0})
	return nil
}
