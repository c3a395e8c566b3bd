package model

import "time"

type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusIncomplete TaskStatus = "incomplete"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusIncomplete:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	return s.Rank() >= 0
}

// Rank orders statuses along queued -> in_progress -> terminal.
// Unknown statuses rank -1.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskStatusQueued:
		return 0
	case TaskStatusInProgress:
		return 1
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusIncomplete:
		return 2
	}
	return -1
}

// CanTransition reports whether a record in status from may move to status to.
// Staying in the same non-terminal status is allowed (it is a no-op).
func CanTransition(from, to TaskStatus) bool {
	if !to.Valid() || from.IsTerminal() {
		return false
	}
	return to.Rank() >= from.Rank()
}

// TaskRecord is the durable unit of background work. It outlives any single
// stream attachment; the in-memory stream state never does.
type TaskRecord struct {
	JobID          string     `json:"jobId"`
	RequestID      string     `json:"requestId"`
	OwnerID        string     `json:"ownerId,omitempty"`
	ConversationID string     `json:"conversationId,omitempty"`
	Status         TaskStatus `json:"status"`
	Cursor         int64      `json:"cursor"`
	PartialOutput  string     `json:"partialOutput"`
	Error          string     `json:"error,omitempty"`
	Provider       string     `json:"provider,omitempty"`
	Model          string     `json:"model,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewTaskRecord builds a freshly submitted record.
func NewTaskRecord(jobID, requestID, ownerID string) *TaskRecord {
	now := time.Now().UTC()
	return &TaskRecord{
		JobID:     jobID,
		RequestID: requestID,
		OwnerID:   ownerID,
		Status:    TaskStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasOwner reports whether the record is bound to an authenticated principal.
func (r *TaskRecord) HasOwner() bool { return r.OwnerID != "" }

// OwnedBy reports whether requesterID may read, resume or cancel the record.
// Records without an owner are addressable by anyone holding the job id.
func (r *TaskRecord) OwnedBy(requesterID string) bool {
	return !r.HasOwner() || r.OwnerID == requesterID
}

// Clone returns a copy safe to hand out of a store.
func (r *TaskRecord) Clone() *TaskRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// StatusUpdate is a requested status change. Output, when set, is the
// upstream's view of the output so far; Error is kept only on a transition
// into a terminal status.
type StatusUpdate struct {
	Status TaskStatus
	Output *string
	Error  string
}

// ApplyStatus applies the monotonic status rule in place. The output is
// written only if the transition is accepted; a terminal transition may
// replace it with the final output, otherwise it must not shrink.
func (r *TaskRecord) ApplyStatus(upd StatusUpdate, now time.Time) bool {
	if !CanTransition(r.Status, upd.Status) {
		return false
	}
	changed := r.Status != upd.Status
	r.Status = upd.Status
	if out := upd.Output; out != nil && (upd.Status.IsTerminal() || len(*out) >= len(r.PartialOutput)) {
		changed = changed || *out != r.PartialOutput
		r.PartialOutput = *out
	}
	if upd.Status.IsTerminal() && upd.Error != "" && r.Error == "" {
		r.Error = upd.Error
		changed = true
	}
	if changed {
		r.UpdatedAt = now
	}
	return changed
}

// ApplyCheckpoint moves the resume cursor forward. Stale checkpoints are ignored.
func (r *TaskRecord) ApplyCheckpoint(cursor int64, output string, now time.Time) bool {
	if r.Status.IsTerminal() || cursor < r.Cursor {
		return false
	}
	r.Cursor = cursor
	if len(output) >= len(r.PartialOutput) {
		r.PartialOutput = output
	}
	r.UpdatedAt = now
	return true
}
