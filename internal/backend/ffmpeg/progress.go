package ffmpeg

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
)

// progressTracker turns ffmpeg's progress stream into fractions of the
// expected output duration. The duration comes from an explicit "-t" cap
// when present, otherwise from the first "Duration:" line ffmpeg prints for
// its inputs.
type progressTracker struct {
	mu      sync.Mutex
	totalUS int64
	emit    func(float64)
}

func newProgressTracker(args []string, emit func(float64)) *progressTracker {
	return &progressTracker{
		totalUS: durationCap(args),
		emit:    emit,
	}
}

func (p *progressTracker) setInputDuration(us int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.totalUS <= 0 && us > 0 {
		p.totalUS = us
	}
}

func (p *progressTracker) publish(outTimeUS int64, end bool) {
	if p.emit == nil {
		return
	}
	if end {
		p.emit(1)
		return
	}
	p.mu.Lock()
	total := p.totalUS
	p.mu.Unlock()
	if total <= 0 || outTimeUS < 0 {
		return
	}
	p.emit(math.Min(1, float64(outTimeUS)/float64(total)))
}

// readProgress consumes "-progress" output: key=value lines grouped into
// batches terminated by "progress=continue" or "progress=end".
func (p *progressTracker) readProgress(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxScannerBuffer)

	outTime := int64(-1)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us":
			if us, err := strconv.ParseInt(value, 10, 64); err == nil {
				outTime = us
			}
		case "out_time_ms":
			// Despite the name ffmpeg reports microseconds here too.
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && outTime < 0 {
				outTime = us
			}
		case "out_time":
			if us := parseClock(value); us >= 0 && outTime < 0 {
				outTime = us
			}
		case "progress":
			p.publish(outTime, value == "end")
			outTime = -1
		}
	}
	return drain(r, sc.Err())
}

// readDiagnostics forwards stderr lines to logf, records input durations and
// returns the last lines for error reporting.
func (p *progressTracker) readDiagnostics(r io.Reader, logf func(string)) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxScannerBuffer)

	tail := make([]string, 0, stderrTailLines)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if us, ok := parseDurationLine(line); ok {
			p.setInputDuration(us)
		}
		if logf != nil {
			logf(line)
		}
		if len(tail) == stderrTailLines {
			tail = tail[1:]
		}
		tail = append(tail, line)
	}
	return tail, drain(r, sc.Err())
}

// drain discards the rest of r after a scan error. ffmpeg stalls on a full
// pipe otherwise.
func drain(r io.Reader, scanErr error) error {
	if scanErr == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, r)
	return scanErr
}

// durationCap returns the "-t" output duration in microseconds, or 0.
func durationCap(args []string) int64 {
	for i := 0; i < len(args)-1; i++ {
		if args[i] != "-t" {
			continue
		}
		if secs, err := strconv.ParseFloat(args[i+1], 64); err == nil && secs > 0 {
			return int64(secs * 1e6)
		}
		if us := parseClock(args[i+1]); us > 0 {
			return us
		}
	}
	return 0
}

// parseDurationLine extracts the value of "  Duration: 00:00:06.00, start: ...".
func parseDurationLine(line string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Duration:")
	if !ok {
		return 0, false
	}
	value, _, _ := strings.Cut(strings.TrimSpace(rest), ",")
	us := parseClock(value)
	return us, us > 0
}

// parseClock parses "HH:MM:SS.fraction" into microseconds; -1 if invalid.
func parseClock(s string) int64 {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return -1
	}
	h, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || h < 0 {
		return -1
	}
	m, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || m < 0 {
		return -1
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec < 0 {
		return -1
	}
	return (h*3600+m*60)*1_000_000 + int64(math.Round(sec*1e6))
}
