package cargo

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	"golang.org/x/term"
)

// Progress is advanced once per line of cargo output. It is visual only.
type Progress interface {
	Inc()
	Finish()
}

type noProgress struct{}

func (noProgress) Inc()    {}
func (noProgress) Finish() {}

// barProgress draws a single-line bar, sized by the build plan. Cargo
// prints more lines than it has invocations, so the total grows when the
// count overtakes it.
type barProgress struct {
	out   io.Writer
	bar   progress.Model
	total int
	done  int
}

func newBarProgress(out io.Writer, total int) *barProgress {
	if total < 1 {
		total = 1
	}
	return &barProgress{
		out:   out,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		total: total,
	}
}

func (p *barProgress) Inc() {
	p.done++
	if p.done > p.total {
		p.total = p.done
	}
	fmt.Fprintf(p.out, "\r%s %d/%d", p.bar.ViewAs(float64(p.done)/float64(p.total)), p.done, p.total)
}

func (p *barProgress) Finish() {
	fmt.Fprint(p.out, "\r\x1b[2K")
}

// DefaultProgress draws a bar on w when it is a terminal and stays silent
// otherwise, so CI logs and the PEP 517 frontend only see cargo's output.
func DefaultProgress(w io.Writer) func(total int) Progress {
	return func(total int) Progress {
		f, ok := w.(*os.File)
		if !ok || !term.IsTerminal(int(f.Fd())) {
			return noProgress{}
		}
		return newBarProgress(w, total)
	}
}
