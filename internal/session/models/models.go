package models

import "time"

// Session binds a server-issued handle to a verified user. Sessions are
// immutable and have no expiry.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
