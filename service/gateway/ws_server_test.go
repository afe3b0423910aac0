package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T, h *harness) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", h.gw.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestHandleWSRejectsWithBareClose(t *testing.T) {
	h := newHarness(t, "n1", nil, nil, withAuth(fakeAuth{}))
	url := newWSServer(t, h)

	ws, _, err := websocket.DefaultDialer.Dial(url+"?token=nope", nil)
	require.NoError(t, err)
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(wait))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	require.False(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "no close frame is sent")
	require.Zero(t, h.gw.Registry().Len())
}

func TestHandleWSAcceptsCookieToken(t *testing.T) {
	h := newHarness(t, "n1", nil, nil, withAuth(fakeAuth{"good": principal(5, 7, 0)}))
	url := newWSServer(t, h)

	hdr := http.Header{}
	hdr.Set("Cookie", "access_token=good")
	ws, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)

	var events []string
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	for len(events) < 3 {
		var f Frame
		require.NoError(t, ws.ReadJSON(&f))
		events = append(events, f.Event)
	}
	require.Equal(t, []string{EventUserStatusChanged, EventUnreadNotifications, EventUnreadCount}, events)
	require.Equal(t, 1, h.gw.Registry().UserConnCount(5))

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = ws.Close()
	eventually(t, func() bool { return h.gw.Registry().Len() == 0 }, "unregistered after close")
}
