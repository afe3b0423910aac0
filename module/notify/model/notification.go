package model

import (
	"encoding/json"
	"time"
)

// Actor 触发通知的操作人（可选）
type Actor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Notification 租户级通知，创建后不可变，只按时间清理
type Notification struct {
	ID        int64           `json:"id"`
	TenantID  int64           `json:"tenantId"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Actor     *Actor          `json:"actor,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// UserNotification is a notification joined with one recipient's delivery record.
type UserNotification struct {
	Notification
	Read        bool       `json:"read"`
	DeliveredAt time.Time  `json:"deliveredAt"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}

// NewNotification 创建通知的入参
type NewNotification struct {
	TenantID int64           `json:"tenantId"`
	Type     string          `json:"type"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data,omitempty"`
	Actor    *Actor          `json:"actor,omitempty"`
}

// Page 分页结果
type Page struct {
	Items    []UserNotification `json:"items"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
}
