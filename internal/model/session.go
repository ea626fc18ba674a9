package model

import "time"

// Session is a server-side login session. One token maps to exactly one
// session; a user may hold several concurrent sessions (one per device).
type Session struct {
	Token     string    `json:"-"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	OriginIP  string    `json:"-"`
	UserAgent string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CreateSessionParams struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	OriginIP  string `json:"originIp"`
	UserAgent string `json:"userAgent"`
}
