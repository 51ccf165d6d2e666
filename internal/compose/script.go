package compose

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// ScriptEntry is one frame reference in a timing script.
type ScriptEntry struct {
	Ref      string
	Duration float64
}

// BuildScript renders the concat timing script for the staged frame names,
// in the given order, each shown for durationPerFrame seconds. Every entry,
// the last included, declares its duration.
func BuildScript(names []string, durationPerFrame float64) string {
	d := formatSeconds(durationPerFrame)
	var b strings.Builder
	for _, name := range names {
		b.WriteString("file ")
		b.WriteString(name)
		b.WriteString("\nduration ")
		b.WriteString(d)
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseScript reads a timing script back into its entries. Blank lines,
// comments and the ffconcat header are ignored.
func ParseScript(text string) ([]ScriptEntry, error) {
	var entries []ScriptEntry
	sc := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") || strings.HasPrefix(s, "ffconcat ") {
			continue
		}
		directive, arg, _ := strings.Cut(s, " ")
		arg = strings.TrimSpace(arg)
		switch directive {
		case "file":
			if arg == "" {
				return nil, fmt.Errorf("line %d: file directive without a path", line)
			}
			entries = append(entries, ScriptEntry{Ref: strings.Trim(arg, "'")})
		case "duration":
			if len(entries) == 0 {
				return nil, fmt.Errorf("line %d: duration before any file", line)
			}
			d, err := strconv.ParseFloat(arg, 64)
			if err != nil || d < 0 {
				return nil, fmt.Errorf("line %d: invalid duration %q", line, arg)
			}
			entries[len(entries)-1].Duration = d
		default:
			return nil, fmt.Errorf("line %d: unknown directive %q", line, directive)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// formatSeconds renders d in its shortest decimal form: 2, 0.5, 1.25.
func formatSeconds(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}
