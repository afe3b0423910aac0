package gateway

import (
	"context"
	"net"
	"net/http"
	"time"

	"PPresence/logger"
	"PPresence/service/identity"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const maxClientFrame = 64 * 1024

// HandleWS upgrades, authenticates and serves one socket until it closes.
// Any auth failure ends in a bare close with no error frame.
func (g *Gateway) HandleWS(c *gin.Context) {
	token := identity.ExtractToken(c.Request, g.opts.AuthCookie)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Info("[gateway] upgrade failed", zap.Error(err))
		return
	}

	ctx := c.Request.Context()
	p, err := g.deps.Auth.Authenticate(ctx, token)
	if err != nil {
		logger.Info("[gateway] handshake rejected", zap.String("remote", c.ClientIP()), zap.Error(err))
		_ = ws.Close()
		return
	}

	g.configureKeepalive(ws)
	g.Serve(ctx, ws, p, ClientMeta{UserAgent: c.Request.UserAgent(), IP: c.ClientIP()})
}

func (g *Gateway) configureKeepalive(ws *websocket.Conn) {
	ws.SetReadLimit(maxClientFrame)
	if g.opts.PingInterval <= 0 {
		return
	}
	wait := g.opts.PingInterval * 2
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wait))
	})
}

// Serve runs the join sequence, reads client frames until the socket fails,
// then runs disconnect bookkeeping.
func (g *Gateway) Serve(ctx context.Context, sock Socket, p *identity.Principal, meta ClientMeta) {
	ctx = context.WithoutCancel(ctx)
	conn := g.Connect(ctx, sock, p, meta)
	defer g.Disconnect(ctx, conn)

	for {
		mt, data, err := sock.ReadMessage()
		if err != nil {
			logReadErr(conn, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if err := g.disp.Dispatch(ctx, conn, data); err != nil {
			logger.Warn("[gateway] client frame failed", zap.String("conn", conn.ID), zap.Error(err))
		}
	}
}

func logReadErr(c *Conn, err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Debug("[gateway] peer closed", zap.String("conn", c.ID))
	default:
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			logger.Info("[gateway] read timeout", zap.String("conn", c.ID))
			return
		}
		logger.Debug("[gateway] read ended", zap.String("conn", c.ID), zap.Error(err))
	}
}
