package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/seantiz/stillreel/internal/compose"
)

var (
	titleCase = cases.Title(language.English)
	upperCase = cases.Upper(language.English)
)

// progressPrinter renders job progress to a terminal as a single redrawn
// line, or as one line per change when the writer is not a terminal.
type progressPrinter struct {
	w   io.Writer
	tty bool

	mu      sync.Mutex
	stage   string
	last    int
	drawing bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, tty: isTerminal(w), last: -1}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (p *progressPrinter) setStage(s compose.Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = titleCase.String(s.String())
	if !p.tty {
		fmt.Fprintln(p.w, p.stage)
	}
}

func (p *progressPrinter) progress(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct == p.last {
		return
	}
	p.last = pct
	if p.tty {
		fmt.Fprintf(p.w, "\r%-11s %3d%%", p.stage, pct)
		p.drawing = true
		return
	}
	fmt.Fprintf(p.w, "%s %d%%\n", p.stage, pct)
}

// finish ends the redrawn line.
func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawing {
		fmt.Fprintln(p.w)
		p.drawing = false
	}
}
