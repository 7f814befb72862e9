package upload

import (
	"time"

	"sshpublish/pkg/config"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

// Task is one local file bound for every remote directory of one server.
type Task struct {
	LocalPath     string
	ContentPath   string
	Server        *config.ServerConfig
	RemoteTargets []string
	SizeBytes     int64
}

// Result is the outcome of one Task. A task fails when any of its remote
// targets failed; Error then lists every failing target.
type Result struct {
	FilePath      string    `json:"file_path"`
	CompiledPath  string    `json:"compiled_path,omitempty"`
	Server        string    `json:"server"`
	RemoteTargets []string  `json:"remote_targets"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	Attempts      int       `json:"attempts"`
	Timestamp     time.Time `json:"timestamp"`
}

// Skip records a file that was left out of the batch without failing it.
type Skip struct {
	FilePath string `json:"file_path"`
	Server   string `json:"server,omitempty"`
	Reason   string `json:"reason"`
}

// Summary is what a batch returns. Total is always Success + Failed; skips
// are reported on their own.
type Summary struct {
	Total     int       `json:"total"`
	Success   int       `json:"success"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Cancelled bool      `json:"cancelled,omitempty"`
	Results   []Result  `json:"results"`
	Skips     []Skip    `json:"skips,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

// Failures returns the failed results in summary order.
func (s *Summary) Failures() []Result {
	var failed []Result
	for _, r := range s.Results {
		if r.Status == StatusFail {
			failed = append(failed, r)
		}
	}
	return failed
}
