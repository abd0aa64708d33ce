package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunKindTrading = "trading"
	RunKindNews    = "news"
)

// IngestRun summarises one execution of an ingestion pipeline. Units counts
// instruments (trading) or upstream documents (news); Failed counts units
// abandoned after retries or skipped on error; Fetched counts records or
// documents accepted; Persisted counts rows actually written.
type IngestRun struct {
	ID         uuid.UUID `json:"id"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Units      int       `json:"units"`
	Failed     int       `json:"failed"`
	Fetched    int       `json:"fetched"`
	Persisted  int       `json:"persisted"`
	Error      *string   `json:"error,omitempty"`
}

func (r *IngestRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
