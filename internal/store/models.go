package store

import "time"

// Check outcomes recorded besides the build transition kinds
const (
	OutcomeFailed = "Failed"
)

// CheckRecord represents a single repository check in the database
type CheckRecord struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	RepositoryID string    `json:"repository"`
	Outcome      string    `json:"outcome"`                // build transition kind, NoBuildsFound or Failed
	BuildNumber  *string   `json:"build_number,omitempty"` // nullable
	BuildState   *string   `json:"build_state,omitempty"`  // nullable
	ErrorMessage *string   `json:"error,omitempty"`        // nullable
	CheckedAt    time.Time `json:"checked_at"`
}

// RepositoryStatus is the stored view of one repository
type RepositoryStatus struct {
	Repository     string        `json:"repository"`
	BuildState     string        `json:"build_state,omitempty"`
	BuildNumber    string        `json:"build_number,omitempty"`
	ThreadResource string        `json:"thread,omitempty"`
	MessageCount   int           `json:"message_count"`
	LatestCheck    *CheckRecord  `json:"latest_check,omitempty"`
	RecentHistory  []CheckRecord `json:"recent_history"`
}

// JournalEntry is a journaled event with its delivery progress
type JournalEntry struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	RecordedAt time.Time `json:"recorded_at"`
	Deliveries int       `json:"deliveries"`
	Pending    int       `json:"pending"`
	LastError  *string   `json:"last_error,omitempty"` // nullable
}
