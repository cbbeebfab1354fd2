package types

import "time"

// Record is the payload produced by a winning strategy. The engine treats
// the Content as opaque; only the envelope fields are inspected downstream.
type Record struct {
	Title     string    `json:"title"`
	Number    string    `json:"number,omitempty"` // issuing document number, when the source exposes one
	Status    string    `json:"status,omitempty"` // validity status as reported by the source
	SourceURL string    `json:"source_url"`
	Source    string    `json:"source"` // name of the strategy that produced the record
	Content   []byte    `json:"content,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// AcquisitionResult is the engine's per-target outcome. Immutable after
// creation; one is emitted for every target of a batch, found or not.
type AcquisitionResult struct {
	ID           string        `json:"id"`
	TargetName   string        `json:"target_name"`
	Found        bool          `json:"found"`
	Record       *Record       `json:"record,omitempty"`
	StrategyUsed string        `json:"strategy_used,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	Err          string        `json:"error,omitempty"`
}
