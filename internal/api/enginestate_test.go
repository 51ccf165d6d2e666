package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/stillreel/internal/backend/memory"
	"github.com/seantiz/stillreel/internal/engine"
)

var errLoad = errors.New("artifact download refused")

func TestGetEngineBeforeLoad(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/engine")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var got engineResponse
	decodeJSON(t, resp, &got)
	if got.State != "uninitialized" {
		t.Errorf("state = %q, want uninitialized", got.State)
	}
	if got.Loads != 0 {
		t.Errorf("loads = %d, want 0", got.Loads)
	}
	if got.Capabilities.Name != memory.BackendName {
		t.Errorf("capabilities.name = %q, want %q", got.Capabilities.Name, memory.BackendName)
	}
}

func TestLoadEngine(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for range 2 {
		resp, err := http.Post(ts.URL+"/v1/engine/load", "", nil)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		var got engineResponse
		decodeJSON(t, resp, &got)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if got.State != "ready" {
			t.Errorf("state = %q, want ready", got.State)
		}
		// A second request reuses the loaded engine.
		if got.Loads != 1 {
			t.Errorf("loads = %d, want 1", got.Loads)
		}
		if got.Capabilities.Version != memory.Version {
			t.Errorf("version = %q, want %q", got.Capabilities.Version, memory.Version)
		}
	}
}

func TestLoadEngineFailure(t *testing.T) {
	srv, _ := newTestServerWith(t, memory.Options{LoadErr: errLoad}, engine.Config{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/engine/load", "", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	var got engineResponse
	decodeJSON(t, resp, &got)
	if got.State != "failed" {
		t.Errorf("state = %q, want failed", got.State)
	}
	if !strings.Contains(got.Error, errLoad.Error()) {
		t.Errorf("error = %q, want it to mention %q", got.Error, errLoad)
	}
}

func TestListBackends(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/backends")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body := readBody(t, resp)
	if !strings.Contains(body, `"name":"memory"`) {
		t.Errorf("body = %s, want memory backend listed", body)
	}
	if !strings.Contains(body, `"active":"memory"`) {
		t.Errorf("body = %s, want memory as the active backend", body)
	}
}
