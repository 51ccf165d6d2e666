package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/seantiz/stillreel/internal/compose"
	"github.com/seantiz/stillreel/internal/engine"
	"github.com/seantiz/stillreel/internal/model"
	"github.com/seantiz/stillreel/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	// multipartMemory is how much of an upload is buffered in memory before
	// spilling to temporary files.
	multipartMemory = 32 << 20
)

// Multipart field names accepted by POST /v1/jobs.
const (
	fieldFrames   = "frames"
	fieldAudio    = "audio"
	fieldDuration = "duration"
	fieldFPS      = "fps"
	fieldFormat   = "format"
)

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// handleCreateJob accepts a multipart upload of ordered frames plus an
// optional soundtrack and queues it for encoding.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	settings, err := s.parseSettings(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	frames, err := readFrames(r.MultipartForm.File[fieldFrames])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var audio *model.AudioTrack
	if headers := r.MultipartForm.File[fieldAudio]; len(headers) > 0 {
		if len(headers) > 1 {
			s.writeError(w, http.StatusBadRequest, "at most one audio file is allowed")
			return
		}
		data, err := readPart(headers[0])
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		audio = &model.AudioTrack{Name: headers[0].Filename, Data: data}
	}

	var size int
	for _, f := range frames {
		size += len(f.Data)
	}
	if audio != nil {
		size += len(audio.Data)
	}

	j, err := s.engine.Submit(r.Context(), engine.Input{
		Frames:   frames,
		Audio:    audio,
		Settings: settings,
	})
	switch {
	case errors.Is(err, compose.ErrEmptyInput), errors.Is(err, compose.ErrInvalidSettings):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, engine.ErrQueueFull), errors.Is(err, engine.ErrStopped):
		w.Header().Set("Retry-After", "5")
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	uploadBytes.Observe(float64(size))
	w.Header().Set("Location", "/v1/jobs/"+j.ID)
	s.writeJSON(w, http.StatusAccepted, j)
}

// parseSettings starts from the server defaults and applies any overrides
// present in the form.
func (s *Server) parseSettings(r *http.Request) (model.JobSettings, error) {
	settings := s.opts.Defaults

	if v := strings.TrimSpace(r.FormValue(fieldDuration)); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return settings, fmt.Errorf("invalid %s %q", fieldDuration, v)
		}
		settings.DurationPerFrame = d
	}
	if v := strings.TrimSpace(r.FormValue(fieldFPS)); v != "" {
		fps, err := strconv.Atoi(v)
		if err != nil {
			return settings, fmt.Errorf("invalid %s %q", fieldFPS, v)
		}
		settings.FrameRate = fps
	}
	if v := strings.TrimSpace(r.FormValue(fieldFormat)); v != "" {
		f, err := model.ParseFormat(v)
		if err != nil {
			return settings, err
		}
		settings.Format = f
	}
	return settings, nil
}

// readFrames loads every uploaded frame in the order the client sent them.
func readFrames(headers []*multipart.FileHeader) ([]model.Frame, error) {
	frames := make([]model.Frame, 0, len(headers))
	for i, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		frames = append(frames, model.Frame{Index: i, Name: fh.Filename, Data: data})
	}
	return frames, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload %q: %w", fh.Filename, err)
	}
	return data, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleCancelJob stops a queued or running job. The response carries the
// record as it stands; a running job reaches failed once the pipeline has
// unwound.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if model.IsTerminal(j.Status) {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", j.Status))
		return
	}

	err := s.engine.Cancel(r.Context(), j.ID)
	switch {
	case errors.Is(err, engine.ErrJobFinished):
		s.writeError(w, http.StatusConflict, "job already finished")
		return
	case err != nil:
		s.logger.Error("cancel job", "job_id", j.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	current, err := s.store.GetJob(r.Context(), j.ID)
	if err != nil {
		s.logger.Error("get canceled job", "job_id", j.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	s.writeJSON(w, http.StatusAccepted, current)
}

// handleGetOutput downloads the encoded video of a completed job.
func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if j.Status != model.StatusCompleted {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, output is only available once completed", j.Status))
		return
	}

	data, err := s.store.GetJobOutput(r.Context(), j.ID)
	if err != nil {
		s.logger.Error("get job output", "job_id", j.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job output")
		return
	}

	mimeType := j.MIMEType
	if mimeType == "" {
		mimeType = model.OutputFormat(j.Format).MIMEType()
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(j.Format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("write job output", "job_id", j.ID, "error", err)
	}
}

// downloadName returns a short random file name for a downloaded video.
func downloadName(format string) string {
	prefix, _, _ := strings.Cut(uuid.NewString(), "-")
	return prefix + "-slideshow." + format
}

// lookupJob fetches the job named by the {id} route parameter, writing a
// 404 or 500 response and returning false when it cannot.
func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	id := chi.URLParam(r, "id")

	j, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	return j, true
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
