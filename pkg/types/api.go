package types

// ClassBacklog tells the server whether and how this worker accepts a class.
type ClassBacklog struct {
	// Whether jobs of this class may be assigned right now.
	// example: true
	Accept bool `json:"accept" example:"true"`
	// Only hand out jobs that have been queued at least this long.
	// example: 0
	MinWaitSeconds int64 `json:"min_wait_seconds" example:"0"`
}

// BacklogState is the worker's posture per job class.
type BacklogState struct {
	User   ClassBacklog `json:"user"`
	System ClassBacklog `json:"system"`
}

// AcquireRequest is the body of POST /acquire.
type AcquireRequest struct {
	Key            string       `json:"key"`
	Version        int          `json:"version"`
	CoresAvailable int          `json:"cores_available"`
	Backlog        BacklogState `json:"backlog"`
}

// AcquireResponse is returned with 200 OK from POST /acquire.
type AcquireResponse struct {
	Job *Job `json:"job"`
}

// SubmitRequest is the body of POST /submit/{job_id}.
type SubmitRequest struct {
	Key      string             `json:"key"`
	Outcome  Outcome            `json:"outcome"`
	Analysis []PositionAnalysis `json:"analysis,omitempty"`
	Error    string             `json:"error,omitempty"`
	Engine   *EngineInfo        `json:"engine,omitempty"`
}

// ErrorResponse is a consistent JSON error payload of the status server.
type ErrorResponse struct {
	// Error message.
	// example: not ready
	Error string `json:"error" example:"not ready"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// SlotStatus summarizes one engine slot for /status.
type SlotStatus struct {
	// Slot index.
	// example: 0
	Index int `json:"index" example:"0"`
	// Lifecycle state (idle, busy, restarting, dead).
	// example: busy
	State string `json:"state" example:"busy"`
	// Job currently assigned to the slot.
	// example: Xa7Hq2Lm
	JobID string `json:"job_id,omitempty" example:"Xa7Hq2Lm"`
	// Process IDs of the engines owned by the slot.
	PIDs []int `json:"pids,omitempty"`
	// Number of times the slot was restarted.
	// example: 0
	Restarts int `json:"restarts" example:"0"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Configured core budget.
	// example: 4
	Cores int `json:"cores" example:"4"`
	// Jobs holding an engine slot, per class.
	InFlightUser   int64 `json:"inflight_user"`
	InFlightSystem int64 `json:"inflight_system"`
	// Accepted jobs not yet running.
	Queued int64 `json:"queued"`
	// Current poll mode of the backlog policy.
	// example: all
	PollMode string `json:"poll_mode" example:"all"`
	// Engine slots.
	Slots []SlotStatus `json:"slots"`
	// Terminal outcome counts since start.
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Abandoned uint64 `json:"abandoned"`
	// Uptime in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Whether the worker is shutting down.
	Draining bool `json:"draining"`
}
