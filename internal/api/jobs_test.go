package api

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/stillreel/internal/backend/memory"
	"github.com/seantiz/stillreel/internal/engine"
	"github.com/seantiz/stillreel/internal/model"
)

func TestCreateJobAppliesDefaults(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJob(t, ts.URL, jobUpload{frames: 3})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", resp.StatusCode, readBody(t, resp))
	}

	var j model.Job
	decodeJSON(t, resp, &j)
	if loc := resp.Header.Get("Location"); loc != "/v1/jobs/"+j.ID {
		t.Errorf("Location = %q, want /v1/jobs/%s", loc, j.ID)
	}
	if j.Status != model.StatusPending {
		t.Errorf("status = %q, want pending", j.Status)
	}
	if j.FrameCount != 3 {
		t.Errorf("frame_count = %d, want 3", j.FrameCount)
	}
	if j.Format != "mp4" || j.FrameRate != 5 || j.DurationPerFrame != 3 {
		t.Errorf("settings = %s/%d/%v, want mp4/5/3", j.Format, j.FrameRate, j.DurationPerFrame)
	}
	if j.HasAudio {
		t.Error("has_audio = true, want false")
	}
}

func TestCreateJobOverrides(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	j := createJob(t, ts.URL, jobUpload{
		frames: 2,
		audio:  1,
		fields: map[string]string{fieldDuration: "1.5", fieldFPS: "10", fieldFormat: "WebM"},
	})

	if j.Format != "webm" || j.FrameRate != 10 || j.DurationPerFrame != 1.5 {
		t.Errorf("settings = %s/%d/%v, want webm/10/1.5", j.Format, j.FrameRate, j.DurationPerFrame)
	}
	if !j.HasAudio {
		t.Error("has_audio = false, want true")
	}

	done := waitForJob(t, ts.URL, j.ID, model.StatusCompleted)
	if done.MIMEType != "video/webm" {
		t.Errorf("mime_type = %q, want video/webm", done.MIMEType)
	}
}

func TestCreateJobRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		upload jobUpload
		want   int
	}{
		{"no frames", jobUpload{}, http.StatusBadRequest},
		{"unknown format", jobUpload{frames: 1, fields: map[string]string{fieldFormat: "gif"}}, http.StatusBadRequest},
		{"unparsable duration", jobUpload{frames: 1, fields: map[string]string{fieldDuration: "soon"}}, http.StatusBadRequest},
		{"negative duration", jobUpload{frames: 1, fields: map[string]string{fieldDuration: "-2"}}, http.StatusBadRequest},
		{"zero fps", jobUpload{frames: 1, fields: map[string]string{fieldFPS: "0"}}, http.StatusBadRequest},
		{"two soundtracks", jobUpload{frames: 1, audio: 2}, http.StatusBadRequest},
	}

	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJob(t, ts.URL, tt.upload)
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.want, readBody(t, resp))
			}
		})
	}

	// Rejected submissions never reach the store.
	jobs, total, err := srv.store.ListJobs(t.Context(), 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 0 || len(jobs) != 0 {
		t.Errorf("stored %d jobs after rejected submissions, want 0", total)
	}
}

func TestCreateJobNotMultipart(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/jobs", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateJobQueueFull(t *testing.T) {
	srv, _ := newTestServerWith(t, memory.Options{ExecDelay: 2 * time.Second}, engine.Config{QueueSize: 1})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// One job running plus one queued is the most the engine will hold.
	var rejected int
	for range 3 {
		resp := postJob(t, ts.URL, jobUpload{frames: 1})
		if resp.StatusCode == http.StatusServiceUnavailable {
			rejected++
			if resp.Header.Get("Retry-After") == "" {
				t.Error("503 response missing Retry-After")
			}
		}
		resp.Body.Close()
	}
	if rejected == 0 {
		t.Error("no submission was rejected with 503")
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"", "/output", "/logs/history", "/progress", "/logs"} {
		resp, err := http.Get(ts.URL + "/v1/jobs/nonexistent" + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %q status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestListJobs(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for range 3 {
		createJob(t, ts.URL, jobUpload{frames: 1})
	}

	resp, err := http.Get(ts.URL + "/v1/jobs?limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var list listJobsResponse
	decodeJSON(t, resp, &list)
	if list.Total != 3 {
		t.Errorf("total = %d, want 3", list.Total)
	}
	if len(list.Jobs) != 2 {
		t.Errorf("len(jobs) = %d, want 2", len(list.Jobs))
	}
	if list.Limit != 2 || list.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want 2/0", list.Limit, list.Offset)
	}
}

func TestListJobsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs?limit=500&offset=-3")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body := readBody(t, resp)
	if !strings.Contains(body, `"jobs":[]`) {
		t.Errorf("body = %s, want empty jobs array", body)
	}
	if !strings.Contains(body, `"limit":20`) || !strings.Contains(body, `"offset":0`) {
		t.Errorf("body = %s, want clamped limit and offset", body)
	}
}

func TestGetOutput(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	j := createJob(t, ts.URL, jobUpload{frames: 2})
	waitForJob(t, ts.URL, j.ID, model.StatusCompleted)

	resp, err := http.Get(ts.URL + "/v1/jobs/" + j.ID + "/output")
	if err != nil {
		t.Fatalf("GET output: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", ct)
	}
	disposition := regexp.MustCompile(`^attachment; filename="[0-9a-f]{8}-slideshow\.mp4"$`)
	if cd := resp.Header.Get("Content-Disposition"); !disposition.MatchString(cd) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if body := readBody(t, resp); !strings.HasPrefix(body, "stillreel memory render") {
		t.Errorf("body = %q, want memory engine output", body)
	}
}

func TestGetOutputBeforeCompletion(t *testing.T) {
	srv, _ := newTestServerWith(t, memory.Options{ExecDelay: time.Second}, engine.Config{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	j := createJob(t, ts.URL, jobUpload{frames: 1})

	resp, err := http.Get(ts.URL + "/v1/jobs/" + j.ID + "/output")
	if err != nil {
		t.Fatalf("GET output: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestFailedJobReportsKind(t *testing.T) {
	srv, _ := newTestServerWith(t, memory.Options{LoadErr: errLoad}, engine.Config{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	j := createJob(t, ts.URL, jobUpload{frames: 1})
	failed := waitForJob(t, ts.URL, j.ID, model.StatusFailed)

	if failed.ErrorKind != "engine_init" {
		t.Errorf("error_kind = %q, want engine_init", failed.ErrorKind)
	}
	if !strings.Contains(failed.Error, errLoad.Error()) {
		t.Errorf("error = %q, want it to mention %q", failed.Error, errLoad)
	}

	resp, err := http.Get(ts.URL + "/v1/jobs/" + j.ID + "/output")
	if err != nil {
		t.Fatalf("GET output: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("output status = %d, want 409", resp.StatusCode)
	}
}

func TestDownloadNameIsUnique(t *testing.T) {
	a, b := downloadName("webm"), downloadName("webm")
	if a == b {
		t.Errorf("downloadName returned %q twice", a)
	}
	if !strings.HasSuffix(a, "-slideshow.webm") {
		t.Errorf("downloadName = %q, want -slideshow.webm suffix", a)
	}
}

func deleteJob(t *testing.T, baseURL, id string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, baseURL+"/v1/jobs/"+id, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	return resp
}

func TestCancelRunningJob(t *testing.T) {
	srv, mem := newTestServerWith(t, memory.Options{ExecDelay: 10 * time.Second}, engine.Config{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	j := createJob(t, ts.URL, jobUpload{frames: 2, audio: 1})
	waitForJob(t, ts.URL, j.ID, model.StatusEncoding)

	resp := deleteJob(t, ts.URL, j.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	failed := waitForJob(t, ts.URL, j.ID, model.StatusFailed)
	if failed.ErrorKind != "canceled" {
		t.Errorf("error_kind = %q, want canceled", failed.ErrorKind)
	}
	srv.engine.Wait()
	if names := mem.Names(); len(names) != 0 {
		t.Errorf("staged names left behind: %v", names)
	}

	again := deleteJob(t, ts.URL, j.ID)
	again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Errorf("second DELETE status = %d, want 409", again.StatusCode)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	srv, _ := newTestServerWith(t, memory.Options{ExecDelay: 500 * time.Millisecond}, engine.Config{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	running := createJob(t, ts.URL, jobUpload{frames: 1})
	waitForJob(t, ts.URL, running.ID, model.StatusEncoding)
	queued := createJob(t, ts.URL, jobUpload{frames: 1})

	resp := deleteJob(t, ts.URL, queued.ID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var got model.Job
	decodeJSON(t, resp, &got)
	if got.Status != model.StatusFailed || got.ErrorKind != "canceled" {
		t.Errorf("job = %s/%s, want failed/canceled", got.Status, got.ErrorKind)
	}

	waitForJob(t, ts.URL, running.ID, model.StatusCompleted)
}

func TestCancelUnknownJob(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := deleteJob(t, ts.URL, "nonexistent")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
