package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/labelflow/internal/core"
	"github.com/JonMunkholm/labelflow/internal/importer"
	"github.com/JonMunkholm/labelflow/internal/record"
)

// multipartMemory is how much of a multipart form is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

var (
	jobRunningMessage = core.UserMessage{
		Message: "The job has not finished yet",
		Action:  "Wait for the job to complete before downloading",
		Code:    "HTTP409",
	}
	noExportMessage = core.UserMessage{
		Message: "The job did not produce an export",
		Action:  "Check the job result for errors",
		Code:    "HTTP404",
	}
	exportExpiredMessage = core.UserMessage{
		Message: "The export file has been removed",
		Action:  "Start a new export",
		Code:    "HTTP410",
	}
)

// handleImport starts an import job from a multipart form. Every "file"
// part is one upload; the other fields are format, encoding, delimiter and
// columns (a JSON column layout).
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.Import.MaxFileSize))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondBadRequest(w, "file too large or invalid form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var columns *record.Columns
	if raw := r.FormValue("columns"); raw != "" {
		columns = &record.Columns{}
		if err := json.Unmarshal([]byte(raw), columns); err != nil {
			respondBadRequest(w, "invalid columns format")
			return
		}
	}

	uploads, err := s.saveUploads(r.MultipartForm.File["file"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	userID, _ := core.UserIDFromContext(r.Context())
	id, err := s.service.StartImport(r.Context(), core.ImportRequest{
		ProjectID: projectID,
		UserID:    userID,
		Format:    r.FormValue("format"),
		Uploads:   uploads,
		Encoding:  r.FormValue("encoding"),
		Delimiter: r.FormValue("delimiter"),
		Columns:   columns,
	})
	if err != nil {
		removeUploads(uploads)
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, newJobResponse(id))
}

// saveUploads copies uploaded files into the uploads directory under
// generated names. The original extension is kept so that format checks
// still apply.
func (s *Server) saveUploads(files []*multipart.FileHeader) ([]importer.Upload, error) {
	if len(files) == 0 {
		return nil, nil
	}
	dir := s.cfg.Import.UploadsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}

	uploads := make([]importer.Upload, 0, len(files))
	for _, fh := range files {
		original := filepath.Base(fh.Filename)
		generated := uuid.NewString() + strings.ToLower(filepath.Ext(original))
		path := filepath.Join(dir, generated)

		if err := copyUpload(fh, path); err != nil {
			removeUploads(uploads)
			return nil, fmt.Errorf("save upload %s: %w", original, err)
		}
		uploads = append(uploads, importer.Upload{
			FullPath:      path,
			GeneratedName: generated,
			OriginalName:  original,
		})
	}
	return uploads, nil
}

func copyUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return err
	}
	return dst.Close()
}

func removeUploads(uploads []importer.Upload) {
	for _, u := range uploads {
		if err := os.Remove(u.FullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove upload", "path", u.FullPath, "error", err)
		}
	}
}

// handleJobEvents streams job progress via Server-Sent Events.
//
// Event IDs are the progress percentage. A reconnecting client sends the
// last one it saw in Last-Event-ID (or ?lastEventId=) and only receives
// progress past it. The stream ends with a "done" event carrying the final
// progress.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	lastEventIDStr := r.Header.Get("Last-Event-ID")
	if lastEventIDStr == "" {
		lastEventIDStr = r.URL.Query().Get("lastEventId")
	}
	lastEventID, resumed := -1, false
	if n, err := strconv.Atoi(lastEventIDStr); err == nil {
		lastEventID, resumed = n, true
	}

	progressCh, err := s.service.SubscribeProgress(jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	send := func(event string, p core.Progress) bool {
		data, _ := json.Marshal(p)
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", p.Percent(), event, data)
		if err := rc.Flush(); err != nil {
			slog.Warn("event stream flush failed", "job_id", jobID, "error", err)
			return false
		}
		return true
	}

	var last core.Progress
	for {
		select {
		case p, ok := <-progressCh:
			if !ok {
				send("done", last)
				return
			}
			last = p
			if p.Phase.Terminal() {
				continue
			}
			if resumed && p.Percent() <= lastEventID {
				continue
			}
			if !send("progress", p) {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleDownloadExport serves the artifact of a finished export job.
func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	p, err := s.service.Progress(jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !p.Phase.Terminal() {
		respondErrorJSON(w, jobRunningMessage, http.StatusConflict)
		return
	}
	res, err := s.service.JobResult(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if res.Export == nil || res.Export.Path == "" || !s.inExportDir(res.Export.Path) {
		respondErrorJSON(w, noExportMessage, http.StatusNotFound)
		return
	}

	f, err := os.Open(res.Export.Path)
	if errors.Is(err, os.ErrNotExist) {
		respondErrorJSON(w, exportExpiredMessage, http.StatusGone)
		return
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	name := filepath.Base(res.Export.Path)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// inExportDir reports whether path lies inside the service's export
// directory.
func (s *Server) inExportDir(path string) bool {
	dir, err := filepath.Abs(s.service.ExportDir())
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, abs)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
