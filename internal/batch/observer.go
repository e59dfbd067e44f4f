package batch

import (
	"fmt"
	"io"
	"sync"
)

// Observer is told about run progress. Calls may come from several
// workers at once.
type Observer interface {
	RunStarted(runID string, total int)
	JobFinished(job *Job, done, total int)
	BatchFinished(batch, batches int)
}

type nopObserver struct{}

func (nopObserver) RunStarted(string, int)     {}
func (nopObserver) JobFinished(*Job, int, int) {}
func (nopObserver) BatchFinished(int, int)     {}

// ConsoleObserver prints one line per finished video and one per
// completed batch.
type ConsoleObserver struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleObserver(w io.Writer) *ConsoleObserver {
	return &ConsoleObserver{w: w}
}

func (o *ConsoleObserver) RunStarted(runID string, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "[*] Run %s: %d videos\n", runID, total)
}

func (o *ConsoleObserver) JobFinished(job *Job, done, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch job.State {
	case Failed:
		fmt.Fprintf(o.w, "[!] skipped video clip %s: %v\n", job.Video.RelPath, job.Err)
	case Skipped:
		fmt.Fprintf(o.w, "[>] Cached: %d/%d %s\n", done, total, job.Video.RelPath)
	default:
		fmt.Fprintf(o.w, "[>] Ready: %d/%d %s (%d frames)\n", done, total, job.Video.RelPath, job.Frames)
	}
}

func (o *ConsoleObserver) BatchFinished(batch, batches int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "[*] Batch %d/%d done\n", batch, batches)
}
