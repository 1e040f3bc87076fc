// Package capture defines core types shared across subsystems.
package capture

import "time"

// JobStatus represents the lifecycle state of a screenshot job.
type JobStatus string

// Job status values persisted in the job store. Transitions only move
// forward: queued is initial, completed is terminal.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusCompleted JobStatus = "completed"
)

// ItemStatus represents the lifecycle state of a single URL within a job.
type ItemStatus string

// Item status values. queued -> processing on task start,
// processing -> success|failed on task outcome. Terminal states are final.
const (
	ItemStatusQueued     ItemStatus = "queued"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusSuccess    ItemStatus = "success"
	ItemStatusFailed     ItemStatus = "failed"
)

// Platform identifies the social network a post URL belongs to.
type Platform string

// Supported platforms. Unsupported URLs are rejected before a job is
// created and never become items.
const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformThreads   Platform = "threads"
)

// Job is the aggregate record for one submitted batch of post URLs.
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Success   int       `json:"success"`
	Failed    int       `json:"failed"`
	ZipPath   string    `json:"zip_path,omitempty"`
	Items     []Item    `json:"items,omitempty"`
}

// Item tracks one URL through the capture pipeline. Index is stable and
// unique within the owning job.
type Item struct {
	Index          int        `json:"index"`
	URL            string     `json:"url"`
	Platform       Platform   `json:"platform"`
	Status         ItemStatus `json:"status"`
	ImagePath      string     `json:"image_path,omitempty"`
	FileName       string     `json:"file_name,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	DebugImagePath string     `json:"debug_image_path,omitempty"`
}

// Task is the queue payload naming one job/item pair to capture.
type Task struct {
	JobID    string   `json:"job_id"`
	Index    int      `json:"index"`
	URL      string   `json:"url"`
	Platform Platform `json:"platform"`
	Attempt  int      `json:"attempt"`
}

// Outcome is the terminal result a worker reports for an item.
type Outcome struct {
	OK             bool
	ImagePath      string
	FileName       string
	ErrorCode      string
	ErrorMessage   string
	DebugImagePath string
}

// SuccessOutcome builds an Outcome for a captured screenshot.
func SuccessOutcome(imagePath, fileName string) Outcome {
	return Outcome{
		OK:        true,
		ImagePath: imagePath,
		FileName:  fileName,
	}
}

// FailureOutcome builds an Outcome from a classified capture error. The
// debug screenshot path, when present, is appended to the stored message so
// operators can find the evidence next to the error.
func FailureOutcome(err *Error) Outcome {
	msg := err.Message
	if err.DebugPath != "" {
		msg = msg + " | Debug screenshot: " + err.DebugPath
	}
	return Outcome{
		OK:             false,
		ErrorCode:      string(err.Code),
		ErrorMessage:   msg,
		DebugImagePath: err.DebugPath,
	}
}

// Request carries everything the capture executor needs for one attempt.
type Request struct {
	URL        string
	Platform   Platform
	OutputPath string
	DebugPath  string
	Timeout    time.Duration
}

// Result is returned by the capture executor on success. The screenshot has
// already been written to the request's OutputPath as a side effect.
type Result struct {
	ContentText string
}
