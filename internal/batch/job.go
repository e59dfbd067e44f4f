package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/ivlev/salcache/internal/config"
	"github.com/ivlev/salcache/internal/system"
)

// ResumeMode decides when a video counts as already done.
type ResumeMode string

const (
	// ResumeManifest skips videos whose manifest is present and whose
	// declared frames all exist.
	ResumeManifest ResumeMode = config.ResumeManifest
	// ResumeDirectory skips any video whose destination directory exists,
	// however partially populated. It is the default.
	ResumeDirectory ResumeMode = config.ResumeDirectory
)

func ParseResumeMode(s string) (ResumeMode, error) {
	switch m := ResumeMode(strings.ToLower(s)); m {
	case ResumeManifest, ResumeDirectory:
		return m, nil
	case "":
		return ResumeDirectory, nil
	}
	return "", fmt.Errorf("batch: unknown resume mode %q", s)
}

type State int

const (
	Discovered State = iota
	Skipped
	Decoded
	Computed
	Rescaled
	Persisted
	FramesExtracted
	ExternalInvoked
	OutputCollected
	RescaledBack
	TempCleanedUp
	Failed
)

var stateNames = [...]string{
	Discovered:      "discovered",
	Skipped:         "skipped",
	Decoded:         "decoded",
	Computed:        "computed",
	Rescaled:        "rescaled",
	Persisted:       "persisted",
	FramesExtracted: "frames_extracted",
	ExternalInvoked: "external_invoked",
	OutputCollected: "output_collected",
	RescaledBack:    "rescaled_back",
	TempCleanedUp:   "temp_cleaned_up",
	Failed:          "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == Skipped || s == Persisted || s == Failed
}

// Job is the processing of one corpus video. It is owned by a single
// worker until the run finishes.
type Job struct {
	ID       string
	Video    system.VideoFile
	Name     string // cache key: corpus-relative folder plus stem
	State    State
	History  []State
	Frames   int
	Err      error
	Started  time.Time
	Finished time.Time
}

func newJob(id string, v system.VideoFile, name string) *Job {
	return &Job{ID: id, Video: v, Name: name, State: Discovered, History: []State{Discovered}}
}

func (j *Job) advance(s State) {
	j.State = s
	j.History = append(j.History, s)
}

func (j *Job) fail(err error) {
	j.Err = err
	j.advance(Failed)
}

func (j *Job) Duration() time.Duration {
	return j.Finished.Sub(j.Started)
}
