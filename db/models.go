package db

import "time"

// Entry is one persisted key/value pair.
type Entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Keys written by the client.
const (
	KeyCurrentUser = "talespinner.currentUserId"
)
