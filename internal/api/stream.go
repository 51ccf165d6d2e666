package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/stillreel/internal/model"
)

// sseStream is an open server-sent events response.
type sseStream struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	canFlush bool
}

// startSSE writes the event-stream headers and clears the server write
// deadline for the long-lived connection.
func (s *Server) startSSE(w http.ResponseWriter) *sseStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	st := &sseStream{w: w, flusher: flusher, canFlush: canFlush}
	st.flush()
	return st
}

func (st *sseStream) flush() {
	if st.canFlush {
		st.flusher.Flush()
	}
}

func (st *sseStream) data(line string) error {
	if err := writeSSEData(st.w, line); err != nil {
		return err
	}
	st.flush()
	return nil
}

func (st *sseStream) event(eventType, data string) error {
	if err := writeSSEEvent(st.w, eventType, data); err != nil {
		return err
	}
	st.flush()
	return nil
}

// handleStreamProgress streams whole-percent progress for a job. The first
// event is the stored snapshot; a final "done" event carries the terminal
// status.
func (s *Server) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if model.IsTerminal(j.Status) {
		st := s.startSSE(w)
		if err := st.data(strconv.Itoa(j.Progress)); err == nil {
			_ = st.event("done", j.Status)
		}
		return
	}

	// Subscribe before reading the snapshot so no sample falls between them.
	ch, unsub := s.engine.Progress().Subscribe(j.ID)
	defer unsub()

	if current, err := s.store.GetJob(r.Context(), j.ID); err == nil {
		j = current
	}

	st := s.startSSE(w)
	if err := st.data(strconv.Itoa(j.Progress)); err != nil {
		return
	}
	if model.IsTerminal(j.Status) {
		_ = st.event("done", j.Status)
		return
	}

	stream(r.Context(), ch, func(pct int) error {
		return st.data(strconv.Itoa(pct))
	})
	if r.Context().Err() != nil {
		return
	}
	_ = st.event("done", s.finalStatus(r.Context(), j.ID))
}

// handleStreamLogs streams engine log lines for a job as they are produced.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	if model.IsTerminal(j.Status) {
		s.startSSE(w)
		return
	}

	// Subscribe on a topic closed since the lookup yields a closed channel,
	// so the loop below exits straight away.
	ch, unsub := s.engine.Logs().Subscribe(j.ID)
	defer unsub()

	st := s.startSSE(w)
	stream(r.Context(), ch, st.data)
	if r.Context().Err() != nil {
		return
	}
	_ = st.event("done", s.finalStatus(r.Context(), j.ID))
}

// stream forwards messages to send until ch closes, ctx ends or a write
// fails.
func stream[T any](ctx context.Context, ch <-chan T, send func(T) error) {
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := send(msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) finalStatus(ctx context.Context, id string) string {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		s.logger.Error("get job after stream", "job_id", id, "error", err)
		return "stream complete"
	}
	return j.Status
}

// logHistoryLine is a single log line in the history response.
type logHistoryLine struct {
	Seq       int    `json:"seq"`
	Line      string `json:"line"`
	CreatedAt string `json:"created_at"`
}

// logHistoryResponse is the JSON response for GET /v1/jobs/{id}/logs/history.
type logHistoryResponse struct {
	JobID string           `json:"job_id"`
	Lines []logHistoryLine `json:"lines"`
}

func (s *Server) handleGetLogHistory(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	logLines, err := s.store.GetLogLines(r.Context(), j.ID)
	if err != nil {
		s.logger.Error("get log lines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get log lines")
		return
	}

	lines := make([]logHistoryLine, len(logLines))
	for i, l := range logLines {
		lines[i] = logHistoryLine{
			Seq:       l.Seq,
			Line:      l.Line,
			CreatedAt: l.CreatedAt.Format(time.RFC3339),
		}
	}

	s.writeJSON(w, http.StatusOK, logHistoryResponse{
		JobID: j.ID,
		Lines: lines,
	})
}

// writeSSEData writes a line as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
