package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskstream/internal/domain"
	"taskstream/internal/domain/model"
	"taskstream/internal/domain/ports/adapter"
	"taskstream/internal/infra/db/memory"
)

func TestReconcile_TerminalSkipsUpstream(t *testing.T) {
	repo := memory.NewTaskRecordRepo()
	seedRecord(repo, "job1", "u1", model.TaskStatusCompleted, 3, "done")
	up := &fakeUpstream{}
	r := NewStatusReconciler(repo, up, nil, nopLogger())

	st, err := r.Reconcile(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, st)
	retrieves, _ := up.calls()
	assert.Zero(t, retrieves)
}

func TestReconcile_AdoptsUpstreamStatusAndOutput(t *testing.T) {
	repo := memory.NewTaskRecordRepo()
	seedRecord(repo, "job1", "u1", model.TaskStatusInProgress, 2, "Hel")
	up := &fakeUpstream{snapshots: []adapter.JobSnapshot{{Status: model.TaskStatusCompleted, Output: "Hello"}}}
	r := NewStatusReconciler(repo, up, nil, nopLogger())

	st, err := r.Reconcile(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, st)

	rec, err := repo.Get(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", rec.PartialOutput)
	assert.Equal(t, int64(2), rec.Cursor)
}

func TestReconcile_UpstreamOutageKeepsLastKnown(t *testing.T) {
	repo := memory.NewTaskRecordRepo()
	seedRecord(repo, "job1", "u1", model.TaskStatusInProgress, 0, "")
	up := &fakeUpstream{retrieveErr: errUpstreamDown}
	r := NewStatusReconciler(repo, up, nil, nopLogger())

	st, err := r.Reconcile(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusInProgress, st)
}

func TestReconcile_UnknownUpstreamJobFails(t *testing.T) {
	repo := memory.NewTaskRecordRepo()
	seedRecord(repo, "job1", "u1", model.TaskStatusQueued, 0, "")
	up := &fakeUpstream{retrieveErr: domain.ErrUnknownUpstreamJob}
	r := NewStatusReconciler(repo, up, nil, nopLogger())

	rec, err := r.Refresh(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, rec.Status)
	assert.Equal(t, msgUpstreamJobMissing, rec.Error)
}

func TestReconcile_NeverRegresses(t *testing.T) {
	repo := memory.NewTaskRecordRepo()
	seedRecord(repo, "job1", "u1", model.TaskStatusInProgress, 0, "")
	up := &fakeUpstream{snapshots: []adapter.JobSnapshot{{Status: model.TaskStatusQueued}}}
	r := NewStatusReconciler(repo, up, nil, nopLogger())

	st, err := r.Reconcile(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusInProgress, st)
}

func TestReconcile_FailedWithoutMessageGetsDefault(t *testing.T) {
	repo := memory.NewTaskRecordRepo()
	seedRecord(repo, "job1", "", model.TaskStatusInProgress, 0, "")
	up := &fakeUpstream{snapshots: []adapter.JobSnapshot{{Status: model.TaskStatusFailed}}}
	r := NewStatusReconciler(repo, up, nil, nopLogger())

	rec, err := r.Refresh(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, rec.Status)
	assert.Equal(t, msgUpstreamFailed, rec.Error)
}

func TestReconcile_MissingRecord(t *testing.T) {
	r := NewStatusReconciler(memory.NewTaskRecordRepo(), &fakeUpstream{}, nil, nopLogger())
	_, err := r.Reconcile(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
