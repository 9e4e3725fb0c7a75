package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
)

// handleHealthz handles the health check request.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type submitJobRequest struct {
	Target         string `json:"target"`
	Format         string `json:"format"`
	OutputTemplate string `json:"output_template"`
	Priority       int    `json:"priority"`
}

type submitJobResponse struct {
	ID string `json:"id"`
}

// handleSubmitJob handles the job submission request.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	jobID, err := s.jobs.SubmitJob(r.Context(), &jobsmodel.SubmitJobRequest{
		Target:         req.Target,
		Format:         req.Format,
		OutputTemplate: req.OutputTemplate,
		Priority:       req.Priority,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	//nolint:errcheck // The error is always nil
	json.NewEncoder(w).Encode(submitJobResponse{ID: jobID})
}

// handleListJobs handles the jobs listing request.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseUintParam(r, "limit")
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}

	snapshots, err := s.jobs.ListJobs(r.Context(), int(limit))
	if err != nil {
		handleError(w, err, "failed to list jobs")
		return
	}
	if snapshots == nil {
		snapshots = []*jobsmodel.JobSnapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // The error is always nil
	json.NewEncoder(w).Encode(snapshots)
}

// handleGetJob handles the job snapshot request.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if jobID == "" {
		http.Error(w, "job ID not found", http.StatusBadRequest)
		return
	}

	snapshot, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // The error is always nil
	json.NewEncoder(w).Encode(snapshot)
}

// handleCancelJob handles the job cancellation request.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if jobID == "" {
		http.Error(w, "job ID not found", http.StatusBadRequest)
		return
	}

	if err := s.jobs.CancelJob(r.Context(), jobID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type sendInputRequest struct {
	Line string `json:"line"`
}

// handleSendInput forwards a line of input to a running job's process.
func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if jobID == "" {
		http.Error(w, "job ID not found", http.StatusBadRequest)
		return
	}

	var req sendInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.jobs.SendInput(r.Context(), jobID, req.Line); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleStreamJobEvents streams a job's events to the client over SSE,
// replaying buffered events from the requested sequence number before
// following the live stream.
func (s *Server) handleStreamJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if jobID == "" {
		http.Error(w, "job ID not found", http.StatusBadRequest)
		return
	}

	from, err := parseUintParam(r, "from")
	if err != nil {
		http.Error(w, "invalid from sequence number", http.StatusBadRequest)
		return
	}

	sub, err := s.jobs.StreamEvents(r.Context(), jobID, from)
	if err != nil {
		handleError(w, err)
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable compression for SSE
	w.Header().Del("Content-Encoding")

	// Response controller for streaming
	rc, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Send initial connection event
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	rc.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			// Client disconnected; the job keeps running.
			return

		case ev, open := <-sub.Events():
			if !open {
				if subErr := sub.Err(); subErr != nil {
					// JSON-encode the message so it cannot break the frame.
					payload, _ := json.Marshal(map[string]string{"error": subErr.Error()})
					fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
				} else {
					fmt.Fprintf(w, "event: end\ndata: {\"status\":\"stream_ended\"}\n\n")
				}
				rc.Flush()
				return
			}

			data, marshalErr := json.Marshal(ev)
			if marshalErr != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.SequenceNum, ev.Kind, data)
			rc.Flush()
		}
	}
}
