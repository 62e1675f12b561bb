package history

import (
	"context"
	"time"
)

// Action names recorded in the log.
const (
	ActionStart     = "start"
	ActionStop      = "stop"
	ActionRouteSync = "route-sync"
)

// Record is one supervisor action outcome for one service (or, for route
// actions, for the whole stack with an empty service name).
type Record struct {
	ID      int64     `json:"id"`
	Action  string    `json:"action"`
	Service string    `json:"service,omitempty"`
	PID     int       `json:"pid,omitempty"`
	OK      bool      `json:"ok"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Sink stores supervisor action history.
type Sink interface {
	EnsureSchema(ctx context.Context) error
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
