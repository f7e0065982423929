package model

import (
	"encoding/json"
	"time"
)

// Checkpoint records where an interrupted batch job stopped. There is at
// most one per job; it is deleted when the job runs to completion.
type Checkpoint struct {
	Job       string          `json:"job"`
	Processed []string        `json:"processed_ids"`
	Remaining []string        `json:"remaining_ids"`
	State     json.RawMessage `json:"state,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
