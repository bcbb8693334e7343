// Package progress renders upload progress for the CLI by observing
// session events.
package progress

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Reporter is the interface the CLI uses to surface transfer progress.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
}

// Bar renders a byte-count progress bar on stderr. On a non-terminal
// stderr it stays silent so piped output remains clean.
type Bar struct {
	bar        *progressbar.ProgressBar
	isTerminal bool
}

// NewBar creates a CLI progress reporter.
func NewBar() *Bar {
	return &Bar{isTerminal: term.IsTerminal(int(os.Stderr.Fd()))}
}

// Start initializes the bar with the total size and a description.
func (p *Bar) Start(total int64, description string) {
	if !p.isTerminal {
		return
	}
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to the current byte position.
func (p *Bar) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the bar.
func (p *Bar) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error prints an error below the bar.
func (p *Bar) Error(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}
}

// NoOp is a silent reporter for --quiet mode.
type NoOp struct{}

// NewNoOp creates a reporter that does nothing.
func NewNoOp() *NoOp { return &NoOp{} }

func (p *NoOp) Start(total int64, description string) {}
func (p *NoOp) Update(current int64)                  {}
func (p *NoOp) Finish()                               {}
func (p *NoOp) Error(err error)                       {}
