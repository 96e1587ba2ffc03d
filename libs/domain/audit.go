package domain

import "time"

// EntityKind names the aggregate an AuditEntry describes.
type EntityKind string

const (
	EntityOrder    EntityKind = "ORDER"
	EntityTrade    EntityKind = "TRADE"
	EntityPosition EntityKind = "POSITION"
)

// AuditEntry is recorded for every state-changing operation on Order, Trade
// or Position (§3, §6.4): actor, action, entity reference, before/after
// snapshots and a correlation id tying it back to the originating request.
type AuditEntry struct {
	ID            int64
	Actor         string
	Action        string
	EntityKind    EntityKind
	EntityID      string
	OldSnapshot   []byte // JSON, nil for creations
	NewSnapshot   []byte // JSON
	CorrelationID string
	RecordedAt    time.Time
}
