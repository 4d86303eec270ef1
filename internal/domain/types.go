package domain

import "time"

// TaskType is an open enumeration: unknown values are accepted and routed
// to the fallback executor.
type TaskType string

const (
	TypeWorkflow     TaskType = "workflow"
	TypeAgentCall    TaskType = "agent_call"
	TypeWebhook      TaskType = "webhook"
	TypeEmail        TaskType = "email"
	TypeReport       TaskType = "report"
	TypeSync         TaskType = "sync"
	TypeCleanup      TaskType = "cleanup"
	TypeNotification TaskType = "notification"
	TypeCustom       TaskType = "custom"
)

type TaskStatus string

const (
	StatusActive    TaskStatus = "active"
	StatusPaused    TaskStatus = "paused"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

type ScheduleKind string

const (
	ScheduleCron     ScheduleKind = "cron"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleOnce     ScheduleKind = "once"
	ScheduleEvent    ScheduleKind = "event"
)

// Schedule describes when a task fires. Exactly one variant is meaningful,
// selected by Kind.
type Schedule struct {
	Kind     ScheduleKind  `json:"kind"`
	Expr     string        `json:"expr,omitempty"`     // cron: 5-field expression
	Timezone string        `json:"timezone,omitempty"` // cron: optional IANA zone
	Interval time.Duration `json:"interval,omitempty"` // interval: fixed period
	At       time.Time     `json:"at,omitempty"`       // once: absolute instant
	Event    string        `json:"event,omitempty"`    // event: external trigger name
}

type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

// RetryPolicy bounds automatic re-execution after a failed attempt.
// Computed delays never exceed MaxDelay.
type RetryPolicy struct {
	MaxRetries   int           `json:"max_retries"`
	Backoff      BackoffType   `json:"backoff"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	// RetryOn, when non-empty, limits retries to failures of the listed
	// error kinds.
	RetryOn []string `json:"retry_on,omitempty"`
}

// Task is a named, recurring or one-shot unit of work scoped to a workspace.
type Task struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        TaskType       `json:"type"`
	Schedule    Schedule       `json:"schedule"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      TaskStatus     `json:"status"`
	Retry       RetryPolicy    `json:"retry"`

	CreatedBy    string     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	RunCount     int        `json:"run_count"`
	FailureCount int        `json:"failure_count"`
}

type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
)

type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one timestamped line in an execution's append-only log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}

// Execution is one firing of a task, including any in-place retries.
// Status transitions are monotonic: pending -> running -> completed|failed.
// The log is append-only; retries increment RetryCount and append, never
// rewrite.
type Execution struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
	Duration    time.Duration   `json:"duration"`
	Log         []LogEntry      `json:"log,omitempty"`
}

// UpcomingRun is a preview entry produced by the stats aggregator.
type UpcomingRun struct {
	TaskID string    `json:"task_id"`
	Name   string    `json:"name"`
	At     time.Time `json:"at"`
}

// Stats summarizes one workspace's tasks and execution history.
type Stats struct {
	WorkspaceID     string        `json:"workspace_id"`
	TotalTasks      int           `json:"total_tasks"`
	ActiveTasks     int           `json:"active_tasks"`
	PausedTasks     int           `json:"paused_tasks"`
	TotalExecutions int           `json:"total_executions"`
	SuccessfulRuns  int           `json:"successful_runs"`
	FailedRuns      int           `json:"failed_runs"`
	AverageDuration time.Duration `json:"average_duration"`
	UpcomingRuns    []UpcomingRun `json:"upcoming_runs"`
}
