package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

// StartRequest is the body of POST /threads. Options overlay the engine
// defaults field by field.
type StartRequest struct {
	Background string               `json:"background"`
	Options    core.AnalysisOptions `json:"options"`
}

// ResumeRequest is the body of POST /threads/{id}/resume. Decision is true
// to approve or a feedback string to revise.
type ResumeRequest struct {
	Decision json.RawMessage `json:"decision"`
}

// ReportResponse carries a finished report.
type ReportResponse struct {
	ThreadID core.ThreadID `json:"thread_id"`
	Report   string        `json:"report"`
}

func threadIDParam(r *http.Request) core.ThreadID {
	return core.ThreadID(chi.URLParam(r, "threadID"))
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			s.respondError(w, http.StatusBadRequest, "request body is required")
		default:
			s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		return false
	}
	return true
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.threads.List(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]core.ThreadSummary, 0, len(threads))
		for _, t := range threads {
			if string(t.Status) == status {
				filtered = append(filtered, t)
			}
		}
		threads = filtered
	}
	if threads == nil {
		threads = []core.ThreadSummary{}
	}
	s.respondJSON(w, http.StatusOK, threads)
}

func (s *Server) handleStartThread(w http.ResponseWriter, r *http.Request) {
	req := StartRequest{Options: s.threads.DefaultOptions()}
	if !s.decodeBody(w, r, &req) {
		return
	}

	approval, err := s.threads.Start(r.Context(), req.Background, req.Options)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/threads/"+string(approval.ThreadID))
	s.respondJSON(w, http.StatusCreated, approval)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	status, err := s.threads.Status(r.Context(), threadIDParam(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	approval, err := s.threads.Approval(r.Context(), threadIDParam(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, approval)
}

// handleGetReport returns JSON, or the raw markdown when the client asks for
// text/markdown or passes ?format=markdown.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := threadIDParam(r)
	report, err := s.threads.Report(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "markdown" || strings.Contains(r.Header.Get("Accept"), "text/markdown") {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, report)
		return
	}
	s.respondJSON(w, http.StatusOK, ReportResponse{ThreadID: id, Report: report})
}

func (s *Server) handleResumeThread(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req.Decision) == 0 {
		s.respondError(w, http.StatusBadRequest, "decision is required")
		return
	}

	var decision any
	if err := json.Unmarshal(req.Decision, &decision); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid decision: "+err.Error())
		return
	}

	result, err := s.threads.Resume(r.Context(), threadIDParam(r), decision)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	status := http.StatusAccepted
	if result.Approval != nil {
		status = http.StatusOK
	}
	s.respondJSON(w, status, result)
}

func (s *Server) handleStopThread(w http.ResponseWriter, r *http.Request) {
	id := threadIDParam(r)
	if err := s.threads.Stop(r.Context(), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	status, err := s.threads.Status(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}
