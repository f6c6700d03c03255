package persistence

import (
	"time"
)

// Totals are the lifetime counters kept across launches.
type Totals struct {
	Deleted      int64     `json:"deleted"`
	DeletedBytes int64     `json:"deleted_bytes"`
	Skipped      int64     `json:"skipped"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

type SessionStats struct {
	ID           string    `json:"id"`
	Mode         string    `json:"mode"`
	StartedAt    time.Time `json:"started_at"`
	Deleted      int64     `json:"deleted"`
	DeletedBytes int64     `json:"deleted_bytes"`
	Skipped      int64     `json:"skipped"`
	UpdatedAt    time.Time `json:"updated_at"`
}
