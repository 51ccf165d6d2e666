package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/stillreel/internal/compose"
	"github.com/seantiz/stillreel/internal/model"
	"github.com/seantiz/stillreel/internal/store"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	dbPath     string
}

// setupCLITestEnv isolates the environment and writes a config selecting the
// in-memory engine.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", base)
	for _, env := range []string{
		"STILLREEL_CONFIG", "STILLREEL_LISTEN_ADDR", "STILLREEL_DB_PATH", "STILLREEL_LOG_LEVEL",
		"STILLREEL_LOG_FORMAT", "STILLREEL_ENGINE", "STILLREEL_FFMPEG_BIN", "STILLREEL_WORK_DIR",
	} {
		t.Setenv(env, "")
	}
	t.Chdir(base)

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "config.toml"),
		dbPath:     filepath.Join(base, "jobs.db"),
	}
	content := fmt.Sprintf("[store]\ndb_path = %q\n\n[logging]\nlevel = \"error\"\n\n[engine]\nname = \"memory\"\n", env.dbPath)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func (env *cliTestEnv) writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(env.baseDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRenderDryRun(t *testing.T) {
	env := setupCLITestEnv(t)
	a := env.writeFile(t, "first.jpg", []byte{0xff, 0xd8})
	b := env.writeFile(t, "second.PNG", []byte{0x89, 'P'})

	stdout, _, err := runCLI(t, []string{"render", "--dry-run", "--duration", "2", a, b}, env.configPath)
	if err != nil {
		t.Fatalf("render --dry-run: %v", err)
	}

	for _, want := range []string{
		"img000.jpg",
		"img001.png",
		"first.jpg",
		"Length:  4s",
		"MP4 1080x1920 @ 5 fps",
		"Command: ffmpeg -f concat -safe 0 -i list.txt",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("dry run output missing %q:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "Audio:") {
		t.Errorf("dry run without --audio mentions audio:\n%s", stdout)
	}
	if _, err := os.Stat(filepath.Join(env.baseDir, "slideshow.mp4")); !os.IsNotExist(err) {
		t.Error("dry run wrote an output file")
	}
}

func TestRenderDryRunWithAudio(t *testing.T) {
	env := setupCLITestEnv(t)
	img := env.writeFile(t, "only.jpg", []byte{0xff, 0xd8})
	track := env.writeFile(t, "song.mp3", []byte("ID3"))

	stdout, _, err := runCLI(t, []string{"render", "--dry-run", "--format", "avi", "--audio", track, img}, env.configPath)
	if err != nil {
		t.Fatalf("render --dry-run: %v", err)
	}
	for _, want := range []string{"Audio:   song.mp3 (trimmed to 3s)", "-c:v mpeg4 -c:a libmp3lame -shortest -t 3 -y out.avi"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("dry run output missing %q:\n%s", want, stdout)
		}
	}
}

func TestRenderWithMemoryEngine(t *testing.T) {
	env := setupCLITestEnv(t)
	a := env.writeFile(t, "a.jpg", []byte{0xff, 0xd8, 1})
	b := env.writeFile(t, "b.jpg", []byte{0xff, 0xd8, 2})
	target := filepath.Join(env.baseDir, "clip.webm")

	stdout, stderr, err := runCLI(t, []string{"render", "--format", "webm", "-o", target, a, b}, env.configPath)
	if err != nil {
		t.Fatalf("render: %v (stderr: %s)", err, stderr)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("stillreel memory render")) {
		t.Errorf("output = %q, want memory engine render", data)
	}
	if !strings.Contains(stdout, "Wrote WEBM video to "+target) {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stderr, "Encoding 100%") {
		t.Errorf("stderr missing progress:\n%s", stderr)
	}
}

func TestRenderRejectsBadInput(t *testing.T) {
	env := setupCLITestEnv(t)
	empty := env.writeFile(t, "empty.jpg", nil)

	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{"render", filepath.Join(env.baseDir, "nope.jpg")}},
		{"empty image", []string{"render", empty}},
		{"unknown format", []string{"render", "--format", "gif", empty}},
		{"no images", []string{"render"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := runCLI(t, tt.args, env.configPath); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEngineCheck(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLI(t, []string{"engine", "check"}, env.configPath)
	if err != nil {
		t.Fatalf("engine check: %v", err)
	}
	for _, want := range []string{"Engine:  memory", "Version: memory-1", "Formats: MP4, WEBM, AVI", "State:   ready"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestEngineCheckUnknownEngine(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv("STILLREEL_ENGINE", "gpu")

	if _, _, err := runCLI(t, []string{"engine", "check"}, env.configPath); err == nil {
		t.Fatal("expected error for unregistered engine")
	}
}

func TestJobsList(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLI(t, []string{"jobs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	if !strings.Contains(stdout, "No jobs recorded") {
		t.Errorf("stdout = %q, want empty message", stdout)
	}

	db, err := store.NewSQLiteStore(env.dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	j := &model.Job{
		ID:               model.NewID(),
		Status:           model.StatusPending,
		Format:           "webm",
		FrameCount:       4,
		DurationPerFrame: 3,
		FrameRate:        5,
		CreatedAt:        time.Now().UTC(),
	}
	if err := db.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	db.Close()

	stdout, _, err = runCLI(t, []string{"jobs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	for _, want := range []string{j.ID, "pending", "WEBM", "Showing 1 of 1"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(env.baseDir, "nested", "stillreel.toml")

	stdout, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(stdout, target) {
		t.Errorf("stdout = %q, want target path", stdout)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Error("second init without --overwrite should fail")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Errorf("init --overwrite: %v", err)
	}

	stdout, _, err = runCLI(t, []string{"config", "validate"}, target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(stdout, "Configuration valid") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	env := setupCLITestEnv(t)
	bad := env.writeFile(t, "bad.toml", []byte("[engine]\nqueue_size = 0\n"))

	if _, _, err := runCLI(t, []string{"config", "validate"}, bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestProgressPrinterPlain(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)

	p.setStage(compose.StageEncoding)
	for _, pct := range []int{0, 0, 50, 50, 100} {
		p.progress(pct)
	}
	p.finish()

	want := "Encoding\nEncoding 0%\nEncoding 50%\nEncoding 100%\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
