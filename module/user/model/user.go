package model

import "time"

// User 表示租户下的用户；只读，由上游用户服务维护
type User struct {
	UserID      int64      `json:"userId"`
	OrgUnitID   *int64     `json:"orgUnitId,omitempty"` // 组织单元，用于回查租户
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	Active      bool       `json:"active"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// Alive 未停用且未删除
func (u *User) Alive() bool {
	return u != nil && u.Active && u.DeletedAt == nil
}

// Name prefers the display name.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
