package jobs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from jobsmodel.JobStatus
		to   jobsmodel.JobStatus
		want bool
	}{
		{
			name: "queued to running",
			from: jobsmodel.JobStatusQueued,
			to:   jobsmodel.JobStatusRunning,
			want: true,
		},
		{
			name: "queued to canceled",
			from: jobsmodel.JobStatusQueued,
			to:   jobsmodel.JobStatusCanceled,
			want: true,
		},
		{
			name: "running to completed",
			from: jobsmodel.JobStatusRunning,
			to:   jobsmodel.JobStatusCompleted,
			want: true,
		},
		{
			name: "running to failed",
			from: jobsmodel.JobStatusRunning,
			to:   jobsmodel.JobStatusFailed,
			want: true,
		},
		{
			name: "running to canceled",
			from: jobsmodel.JobStatusRunning,
			to:   jobsmodel.JobStatusCanceled,
			want: true,
		},
		{
			name: "queued to completed skips running",
			from: jobsmodel.JobStatusQueued,
			to:   jobsmodel.JobStatusCompleted,
			want: false,
		},
		{
			name: "completed is terminal",
			from: jobsmodel.JobStatusCompleted,
			to:   jobsmodel.JobStatusRunning,
			want: false,
		},
		{
			name: "failed is terminal",
			from: jobsmodel.JobStatusFailed,
			to:   jobsmodel.JobStatusQueued,
			want: false,
		},
		{
			name: "canceled is terminal",
			from: jobsmodel.JobStatusCanceled,
			to:   jobsmodel.JobStatusRunning,
			want: false,
		},
		{
			name: "no self transition",
			from: jobsmodel.JobStatusRunning,
			to:   jobsmodel.JobStatusRunning,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, jobsmodel.IsValidTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, jobsmodel.JobStatusQueued.IsTerminal())
	assert.False(t, jobsmodel.JobStatusRunning.IsTerminal())
	assert.True(t, jobsmodel.JobStatusCompleted.IsTerminal())
	assert.True(t, jobsmodel.JobStatusFailed.IsTerminal())
	assert.True(t, jobsmodel.JobStatusCanceled.IsTerminal())
}
