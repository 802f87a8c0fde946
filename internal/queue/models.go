package queue

import "time"

// Envelope is one unit of pipeline work: a whole report's worth.
type Envelope struct {
	EnvelopeID         string
	ReportID           string
	DAGVersion         int
	EnqueuedAt         time.Time
	DeliveryCount      int
	LeaseOwner         string
	VisibilityDeadline *time.Time
}

// DeadLetter is an envelope parked for operator review.
type DeadLetter struct {
	EnvelopeID    string
	ReportID      string
	DAGVersion    int
	EnqueuedAt    time.Time
	DeliveryCount int
	Reason        string
	DeadAt        time.Time
}

// HealthSummary describes aggregated queue counts.
type HealthSummary struct {
	Ready       int
	Leased      int
	DeadLetters int
}
