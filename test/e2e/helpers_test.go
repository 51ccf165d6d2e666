package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
}

type builtBinary struct {
	once sync.Once
	path string
	err  error
}

var binaries = map[string]*builtBinary{
	"testserver": {},
	"stillreel":  {},
}

// getBinary builds ./cmd/<name> once per test run.
func getBinary(t *testing.T, name string) string {
	t.Helper()
	b := binaries[name]
	b.once.Do(func() {
		dir, err := os.MkdirTemp("", "stillreel-e2e-*")
		if err != nil {
			b.err = err
			return
		}
		binary := filepath.Join(dir, name)
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/"+name)
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			b.err = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		b.path = binary
	})
	if b.err != nil {
		t.Fatal(b.err)
	}
	return b.path
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// startProcess runs binary with args and extra environment and waits for
// /healthz to answer.
func startProcess(t *testing.T, binary string, args []string, env ...string) *serverProc {
	t.Helper()

	addr := freeAddr(t)
	stdout := &lockedBuffer{}
	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), "STILLREEL_LISTEN_ADDR="+addr, "STILLREEL_LOG_LEVEL=info")
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// startServer runs the test server with the given engine injections.
func startServer(t *testing.T, env ...string) *serverProc {
	t.Helper()
	return startProcess(t, getBinary(t, "testserver"), nil, env...)
}

// submitJob posts frames (and optionally a soundtrack) as a multipart job.
func submitJob(t *testing.T, sp *serverProc, frames int, withAudio bool, fields map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for i := range frames {
		fw, err := mw.CreateFormFile("frames", fmt.Sprintf("photo-%d.jpg", i))
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write([]byte{0xff, 0xd8, byte(i)})
	}
	if withAudio {
		fw, err := mw.CreateFormFile("audio", "track.mp3")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write([]byte("ID3"))
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	resp, err := http.Post(sp.url+"/v1/jobs", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, data)
	}
	return resp, body
}

// createJob submits a job and requires it to be accepted.
func createJob(t *testing.T, sp *serverProc, frames int, withAudio bool) string {
	t.Helper()
	resp, body := submitJob(t, sp, frames, withAudio, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %v", resp.StatusCode, body)
	}
	id, ok := body["id"].(string)
	if !ok {
		t.Fatal("created job missing id field")
	}
	return id
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode, body
}

// waitForStatus polls a job until it reaches status.
func waitForStatus(t *testing.T, sp *serverProc, id, status string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last map[string]any
	for time.Now().Before(deadline) {
		_, last = getJSON(t, sp.url+"/v1/jobs/"+id)
		if last["status"] == status {
			return last
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("job %s did not reach %q within %v; last: %v", id, status, timeout, last)
	return nil
}

func readAll(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return resp, string(data)
}
