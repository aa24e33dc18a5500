package model

import "time"

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Mutation is one write addressed to a remote collection.
type Mutation struct {
	Table  string         `json:"table"`
	Op     string         `json:"op"`
	Record map[string]any `json:"record"`
}

func ValidOp(op string) bool {
	return op == OpInsert || op == OpUpdate || op == OpDelete
}

// SyncQueueItem is a buffered mutation waiting for delivery.
type SyncQueueItem struct {
	ID         string    `json:"id"`
	Mutation   Mutation  `json:"mutation"`
	Retries    int       `json:"retries"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}
