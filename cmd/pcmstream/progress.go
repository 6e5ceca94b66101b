package main

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/term"
)

const progressInterval = 100 * time.Millisecond

// progress prints a single updating status line when stdout is a terminal.
type progress struct {
	label string
	total int // frames, 0 when unknown
	rate  int
	tty   bool
	last  time.Time
	shown bool
}

func newProgress(label string, totalFrames, sampleRate int) *progress {
	return &progress{
		label: label,
		total: totalFrames,
		rate:  sampleRate,
		tty:   term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (p *progress) update(frames, xruns int) {
	if !p.tty || time.Since(p.last) < progressInterval {
		return
	}
	p.last = time.Now()
	p.shown = true

	// Get terminal width
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		width = 80
	}
	fmt.Print(formatProgressLine(p.label, frames, p.total, p.rate, xruns, width))
}

func (p *progress) done() {
	if p.shown {
		fmt.Println()
		p.shown = false
	}
}

// formatProgressLine renders the status line, cut to fit width columns.
func formatProgressLine(label string, frames, total, rate, xruns, width int) string {
	elapsed := time.Duration(frames) * time.Second / time.Duration(rate)
	line := fmt.Sprintf("%s  %v", label, elapsed.Truncate(100*time.Millisecond))
	if total > 0 {
		length := time.Duration(total) * time.Second / time.Duration(rate)
		line += fmt.Sprintf(" / %v  %3d%%", length.Truncate(100*time.Millisecond), min(frames*100/total, 100))
	}
	if xruns > 0 {
		line += fmt.Sprintf("  xruns: %d", xruns)
	}

	if limit := width - 1; len(line) > limit {
		line = line[:max(limit, 0)]
	}
	return "\r\033[K" + line
}
