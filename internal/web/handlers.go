package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/labelflow/internal/catalog"
	"github.com/JonMunkholm/labelflow/internal/core"
	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/project"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// JobResponse is returned when a job starts.
type JobResponse struct {
	JobID     string `json:"job_id"`
	Progress  string `json:"progress_url"`
	Events    string `json:"events_url"`
	ResultURL string `json:"result_url"`
}

func newJobResponse(id string) JobResponse {
	base := "/api/jobs/" + id
	return JobResponse{
		JobID:     id,
		Progress:  base,
		Events:    base + "/events",
		ResultURL: base + "/result",
	}
}

// JobResultResponse is a finished job. Export paths are reduced to the file
// name; the artifact is fetched from DownloadURL.
type JobResultResponse struct {
	*core.JobResult
	DownloadURL string `json:"download_url,omitempty"`
}

func newJobResultResponse(res *core.JobResult) JobResultResponse {
	out := JobResultResponse{JobResult: res}
	if res.Export != nil && res.Export.Path != "" {
		cp := *res
		exp := *res.Export
		exp.Path = filepath.Base(exp.Path)
		cp.Export = &exp
		out.JobResult = &cp
		out.DownloadURL = "/api/jobs/" + res.JobID + "/download"
	}
	return out
}

// LabelResponse identifies a stored annotation.
type LabelResponse struct {
	ID          int64      `json:"id"`
	UUID        uuid.UUID  `json:"uuid"`
	Kind        label.Kind `json:"kind"`
	ExampleUUID uuid.UUID  `json:"example_uuid"`
	TypeID      int64      `json:"type_id,omitempty"`
}

// projectIDParam reads the {projectID} route parameter.
func projectIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(w, "project id must be a positive integer")
		return 0, false
	}
	return id, true
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondBadRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// handleListCatalog lists the import and export formats of every project type.
func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalog.All())
}

// handleGetCatalog returns the formats of one project type.
func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	t, err := project.ParseType(chi.URLParam(r, "projectType"))
	if err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	def, ok := catalog.Get(t)
	if !ok {
		respondBadRequest(w, fmt.Sprintf("no formats registered for %s", t))
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// exportBody is the request body of handleExport.
type exportBody struct {
	Format        string `json:"format"`
	ConfirmedOnly bool   `json:"confirmed_only"`
}

// handleExport starts an export job.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	var body exportBody
	if !decodeJSON(w, r, &body) {
		return
	}

	id, err := s.service.StartExport(r.Context(), core.ExportRequest{
		ProjectID:     projectID,
		Format:        body.Format,
		ConfirmedOnly: body.ConfirmedOnly,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newJobResponse(id))
}

// annotateBody is the request body of handleAnnotate.
type annotateBody struct {
	Kind  label.Kind `json:"kind"`
	Value any        `json:"value"`
}

// handleAnnotate adds one label to an example for the requesting user.
func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	exampleUUID, err := uuid.Parse(chi.URLParam(r, "exampleUUID"))
	if err != nil {
		respondBadRequest(w, "example id must be a UUID")
		return
	}
	var body annotateBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if _, err := label.ParseKind(string(body.Kind)); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	userID, _ := core.UserIDFromContext(r.Context())

	l, err := s.service.Annotate(r.Context(), core.AnnotateRequest{
		ProjectID:   projectID,
		UserID:      userID,
		ExampleUUID: exampleUUID,
		Kind:        body.Kind,
		Value:       body.Value,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	b := l.Common()
	writeJSON(w, http.StatusCreated, LabelResponse{
		ID:          b.ID,
		UUID:        b.UUID,
		Kind:        l.Kind(),
		ExampleUUID: exampleUUID,
		TypeID:      b.TypeID,
	})
}

// handleListJobs returns the progress of every running job.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ActiveJobs())
}

// handleJobQueueStatus returns the current state of the job limiter.
// Used for monitoring and to check if the system can accept more jobs.
func (s *Server) handleJobQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}

// handleJobProgress returns a job's current progress without blocking.
func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.Progress(chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleJobResult returns the final result of a job. A running job answers
// 202 with its progress unless ?wait=true asks to block until it finishes.
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		p, err := s.service.Progress(jobID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if !p.Phase.Terminal() {
			writeJSON(w, http.StatusAccepted, p)
			return
		}
	}

	res, err := s.service.JobResult(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResultResponse(res))
}

// handleCancelJob cancels a running job. Cancelling a finished job is a
// no-op.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelJob(chi.URLParam(r, "jobID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
