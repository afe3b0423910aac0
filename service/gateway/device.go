package gateway

import (
	"strings"

	"github.com/mssola/useragent"
)

// DeviceInfo is what session-added tells other tabs about a new login.
type DeviceInfo struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	OS             string `json:"os,omitempty"`
	Kind           string `json:"kind"` // desktop / mobile / bot
	IP             string `json:"ip,omitempty"`
}

func ParseDevice(ua, ip string) DeviceInfo {
	d := DeviceInfo{Kind: "desktop", IP: ip}
	ua = strings.TrimSpace(ua)
	if ua == "" {
		d.Kind = "unknown"
		return d
	}
	u := useragent.New(ua)
	d.Browser, d.BrowserVersion = u.Browser()
	d.OS = u.OS()
	switch {
	case u.Bot():
		d.Kind = "bot"
	case u.Mobile():
		d.Kind = "mobile"
	}
	return d
}
