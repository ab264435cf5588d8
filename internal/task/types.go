// Package task defines the messages exchanged between the Planner and the
// Manager/Worker pool: TaskRequest, TaskResponse, and the
// WorkerResult a Worker reports back once execution finishes.
package task

import "time"

// Action is one of the five operations a TaskRequest can carry.
type Action string

const (
	ActionStartNewTask    Action = "START_NEW_TASK"
	ActionResumeTask      Action = "RESUME_TASK"
	ActionProcessFeedback Action = "PROCESS_FEEDBACK"
	ActionMergeRequest    Action = "MERGE_REQUEST"
	ActionCheckStatus     Action = "CHECK_STATUS"
)

// BoardItemRef is the minimal board-item projection a TaskRequest carries,
// enough for prompt generation without re-fetching the board mid-tick.
type BoardItemRef struct {
	ID          string
	Title       string
	Description string
	Repository  string
	Labels      []string
}

// Comment is a reviewer comment surfaced to a PROCESS_FEEDBACK request.
type Comment struct {
	Author    string
	Body      string
	FilePath  string
	Line      int
	URL       string
	CreatedAt time.Time
}

// Request is a Planner→Manager message. Produced
// fresh every tick; never persisted.
type Request struct {
	TaskID         string
	Action         Action
	RepositoryID   string
	BoardItem      *BoardItemRef
	Comments       []Comment
	PullRequestURL string
}

// ResponseStatus is the outcome of Manager.RequestWork admission.
type ResponseStatus string

const (
	ResponseAccepted   ResponseStatus = "ACCEPTED"
	ResponseRejected   ResponseStatus = "REJECTED"
	ResponseInProgress ResponseStatus = "IN_PROGRESS"
	ResponseCompleted  ResponseStatus = "COMPLETED"
	ResponseError      ResponseStatus = "ERROR"
)

// Response is a Manager→Planner reply.
type Response struct {
	TaskID         string
	Status         ResponseStatus
	WorkerID       string
	Message        string
	PullRequestURL string
}

// Result is a Worker→Manager outcome.
type Result struct {
	TaskID         string
	Success        bool
	PullRequestURL string
	ErrorMessage   string
	CompletedAt    time.Time
	Details        map[string]any
}
