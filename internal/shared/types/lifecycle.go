package types

import "time"

// State represents a worker's lifecycle state
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

// WorkerInfo describes one registered worker
type WorkerInfo struct {
	Version string `json:"version"`
	State   State  `json:"state"`
}

// Stats contains host statistics
type Stats struct {
	Active  *WorkerInfo `json:"active,omitempty"`
	Waiting *WorkerInfo `json:"waiting,omitempty"`
	Clients int         `json:"clients"`
	Claimed int         `json:"claimed"`
	// OldestClient is when the longest-connected client joined
	OldestClient *time.Time `json:"oldest_client,omitempty"`
}
