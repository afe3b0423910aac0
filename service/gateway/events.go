package gateway

import (
	"encoding/json"
	"strconv"

	nmodel "PPresence/module/notify/model"
)

// Server -> client events.
const (
	EventNotification        = "notification"
	EventUnreadNotifications = "unread-notifications"
	EventUnreadCount         = "unread-count"
	EventUserStatusChanged   = "user-status-changed"
	EventSessionAdded        = "session-added"
	EventSessionRemoved      = "session-removed"
	EventSessionExpired      = "session-expired"
	EventForceDisconnect     = "force-disconnect"
)

// Client -> server events.
const (
	EventMarkRead    = "mark-read"
	EventMarkAllRead = "mark-all-read"
)

// ElevatedGroup is joined by superusers and sees every tenant.
const ElevatedGroup = "tenant:*"

func TenantGroup(tenantID int64) string {
	return "tenant:" + strconv.FormatInt(tenantID, 10)
}

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return encodeRaw(event, raw)
}

func encodeRaw(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

type UserStatus struct {
	UserID      int64  `json:"userId"`
	TenantID    int64  `json:"tenantId"`
	Online      bool   `json:"online"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type SessionEvent struct {
	SessionID int64      `json:"sessionId"`
	UserID    int64      `json:"userId"`
	TenantID  int64      `json:"tenantId"`
	Device    DeviceInfo `json:"device"`
}

type SessionExpired struct {
	SessionID int64  `json:"sessionId"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

type ForceDisconnect struct {
	Reason string `json:"reason"`
}

type UnreadBatch struct {
	Notifications []nmodel.UserNotification `json:"notifications"`
	Count         int64                     `json:"count"`
}

type UnreadCount struct {
	Count int64 `json:"count"`
}
