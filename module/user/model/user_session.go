package model

import "time"

// Session revoke reasons; also the reasons carried by session-expired.
const (
	ReasonExpired = "expired"
	ReasonRevoked = "revoked"
	ReasonLogout  = "logout"
)

// NormalizeReason maps anything outside the known reasons to ReasonRevoked.
func NormalizeReason(reason string) string {
	switch reason {
	case ReasonExpired, ReasonRevoked, ReasonLogout:
		return reason
	}
	return ReasonRevoked
}

// LoginSession 登录会话（外部表，本服务只读 + 失效更新）
type LoginSession struct {
	SessionID    int64      `json:"sessionId"`
	UserID       int64      `json:"userId"`
	TenantID     int64      `json:"tenantId"`
	UserAgent    string     `json:"userAgent"`
	IP           string     `json:"ip"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastSeenAt   *time.Time `json:"lastSeenAt,omitempty"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
	RevokeReason string     `json:"revokeReason,omitempty"`
}

// ValidAt 未撤销且未过期
func (s *LoginSession) ValidAt(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// BelongsTo reports whether the session was issued to userID.
func (s *LoginSession) BelongsTo(userID int64) bool {
	return s != nil && s.UserID == userID
}
