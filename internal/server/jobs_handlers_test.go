package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
	"github.com/grabwell/grabwell/internal/pkg/hub"
	"github.com/grabwell/grabwell/internal/server"
	servermock "github.com/grabwell/grabwell/internal/server/mock"
)

const testJobID = "6c1f2b9e-9d3a-4a1b-8f5e-2d7c3b4a5e6f"

func newTestServer(t *testing.T) (*servermock.MockJobsService, *httptest.Server) {
	t.Helper()

	ctrl := gomock.NewController(t)
	jobs := servermock.NewMockJobsService(ctrl)

	srv := server.New(context.Background(), &server.Config{
		Host:             "127.0.0.1",
		Port:             0,
		RequestBodyLimit: 1 << 20,
	}, jobs)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return jobs, ts
}

func TestHandleSubmitJob(t *testing.T) {
	jobs, ts := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		mock       func()
		wantStatus int
	}{
		{
			name: "success",
			body: `{"target":"https://music.example.com/album/123","format":"aac-legacy"}`,
			mock: func() {
				jobs.EXPECT().SubmitJob(gomock.Any(), &jobsmodel.SubmitJobRequest{
					Target: "https://music.example.com/album/123",
					Format: "aac-legacy",
				}).Return(testJobID, nil)
			},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "error: invalid body",
			body:       `{not json`,
			mock:       func() {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "error: invalid target",
			body: `{"target":"not a url"}`,
			mock: func() {
				jobs.EXPECT().SubmitJob(gomock.Any(), gomock.Any()).
					Return("", status.Error(codes.InvalidArgument, "invalid request"))
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "error: queue full",
			body: `{"target":"https://music.example.com/album/123"}`,
			mock: func() {
				jobs.EXPECT().SubmitJob(gomock.Any(), gomock.Any()).
					Return("", status.Error(codes.ResourceExhausted, "job queue is full"))
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mock()

			//nolint:noctx // Tests use the default client.
			res, err := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
			if tt.wantStatus == http.StatusCreated {
				var payload struct {
					ID string `json:"id"`
				}
				require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
				assert.Equal(t, testJobID, payload.ID)
			}
		})
	}
}

func TestHandleGetJob(t *testing.T) {
	jobs, ts := newTestServer(t)

	tests := []struct {
		name       string
		mock       func()
		wantStatus int
	}{
		{
			name: "success",
			mock: func() {
				jobs.EXPECT().GetJob(gomock.Any(), testJobID).
					Return(&jobsmodel.JobSnapshot{
						ID:     testJobID,
						Status: jobsmodel.JobStatusRunning,
					}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "error: not found",
			mock: func() {
				jobs.EXPECT().GetJob(gomock.Any(), testJobID).
					Return(nil, status.Error(codes.NotFound, "job not found"))
			},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mock()

			//nolint:noctx // Tests use the default client.
			res, err := http.Get(ts.URL + "/jobs/" + testJobID)
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
			if tt.wantStatus == http.StatusOK {
				var snapshot jobsmodel.JobSnapshot
				require.NoError(t, json.NewDecoder(res.Body).Decode(&snapshot))
				assert.Equal(t, testJobID, snapshot.ID)
				assert.Equal(t, jobsmodel.JobStatusRunning, snapshot.Status)
			}
		})
	}
}

func TestHandleListJobs(t *testing.T) {
	jobs, ts := newTestServer(t)

	jobs.EXPECT().ListJobs(gomock.Any(), 0).Return(nil, nil)

	//nolint:noctx // Tests use the default client.
	res, err := http.Get(ts.URL + "/jobs")
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(body)))
}

func TestHandleCancelJob(t *testing.T) {
	jobs, ts := newTestServer(t)

	tests := []struct {
		name       string
		mock       func()
		wantStatus int
	}{
		{
			name: "success",
			mock: func() {
				jobs.EXPECT().CancelJob(gomock.Any(), testJobID).Return(nil)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name: "error: already terminal",
			mock: func() {
				jobs.EXPECT().CancelJob(gomock.Any(), testJobID).
					Return(status.Error(codes.FailedPrecondition, "job is already COMPLETED"))
			},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mock()

			//nolint:noctx // Tests use the default client.
			res, err := http.Post(ts.URL+"/jobs/"+testJobID+"/cancel", "application/json", http.NoBody)
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
		})
	}
}

func TestHandleSendInput(t *testing.T) {
	jobs, ts := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		mock       func()
		wantStatus int
	}{
		{
			name: "success",
			body: `{"line":"2fa-code"}`,
			mock: func() {
				jobs.EXPECT().SendInput(gomock.Any(), testJobID, "2fa-code").Return(nil)
			},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "error: invalid body",
			body:       `{`,
			mock:       func() {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "error: job not running",
			body: `{"line":"2fa-code"}`,
			mock: func() {
				jobs.EXPECT().SendInput(gomock.Any(), testJobID, "2fa-code").
					Return(status.Error(codes.FailedPrecondition, "job is not running"))
			},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mock()

			//nolint:noctx // Tests use the default client.
			res, err := http.Post(ts.URL+"/jobs/"+testJobID+"/input", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
		})
	}
}

func TestHandleStreamJobEvents(t *testing.T) {
	jobs, ts := newTestServer(t)

	// Back the mocked service with a real hub so the full replay and
	// stream-end path is exercised.
	h := hub.New(&hub.Config{})
	h.Register(testJobID)

	for _, ev := range []jobsmodel.JobEvent{
		{Kind: jobsmodel.EventKindState, State: &jobsmodel.StateEvent{Status: jobsmodel.JobStatusQueued}},
		{Kind: jobsmodel.EventKindProgress, Progress: &jobsmodel.ProgressEvent{Stage: "download", Percent: 50}},
		{Kind: jobsmodel.EventKindState, Terminal: true, State: &jobsmodel.StateEvent{Status: jobsmodel.JobStatusCompleted}},
	} {
		_, err := h.Publish(testJobID, ev)
		require.NoError(t, err)
	}

	jobs.EXPECT().StreamEvents(gomock.Any(), testJobID, uint64(0)).
		DoAndReturn(func(_ context.Context, jobID string, from uint64) (*hub.Subscription, error) {
			return h.Subscribe(jobID, from)
		})

	client := &http.Client{Timeout: 5 * time.Second}
	//nolint:noctx // Tests use a bounded client.
	res, err := client.Get(ts.URL + "/jobs/" + testJobID + "/events?from=0")
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	payload := string(body)
	assert.Contains(t, payload, "event: connected")
	assert.Contains(t, payload, "event: state")
	assert.Contains(t, payload, "event: progress")
	assert.Contains(t, payload, `"percent":50`)
	assert.Contains(t, payload, "event: end")
}

func TestHandleStreamJobEventsSlowSubscriber(t *testing.T) {
	jobs, ts := newTestServer(t)

	h := hub.New(&hub.Config{SubscriberQueueSize: 1})
	h.Register(testJobID)

	// Overflow the subscription before the handler ever reads from it:
	// with a queue of one and no consumer, a burst of three publishes
	// drops the subscriber.
	sub, err := h.Subscribe(testJobID, 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = h.Publish(testJobID, jobsmodel.JobEvent{
			Kind: jobsmodel.EventKindLog,
			Log:  &jobsmodel.LogEvent{Stream: jobsmodel.LogStreamStdout, Line: "burst"},
		})
		require.NoError(t, err)
	}

	jobs.EXPECT().StreamEvents(gomock.Any(), testJobID, uint64(0)).Return(sub, nil)

	client := &http.Client{Timeout: 5 * time.Second}
	//nolint:noctx // Tests use a bounded client.
	res, err := client.Get(ts.URL + "/jobs/" + testJobID + "/events?from=0")
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	payload := string(body)
	assert.Contains(t, payload, "event: error")
	assert.Contains(t, payload, `{"error":"`)
	assert.NotContains(t, payload, "event: end")
}

func TestHandleStreamJobEventsErrors(t *testing.T) {
	jobs, ts := newTestServer(t)

	t.Run("invalid from", func(t *testing.T) {
		//nolint:noctx // Tests use the default client.
		res, err := http.Get(ts.URL + "/jobs/" + testJobID + "/events?from=abc")
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("unknown job", func(t *testing.T) {
		jobs.EXPECT().StreamEvents(gomock.Any(), testJobID, uint64(0)).
			Return(nil, status.Error(codes.NotFound, "job not found"))

		//nolint:noctx // Tests use the default client.
		res, err := http.Get(ts.URL + "/jobs/" + testJobID + "/events")
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}
