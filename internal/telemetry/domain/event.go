package domain

import "time"

// LifecycleEvent is published when a signature request reaches a terminal status.
type LifecycleEvent struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"requestId"`
	RequesterID string    `json:"requesterId,omitempty"`
	EventType   string    `json:"eventType"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	Source      string    `json:"source"`
	OccurredAt  time.Time `json:"occurredAt"`
}
