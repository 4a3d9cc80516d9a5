package pipeline

import (
	"fmt"
	"time"
)

// Stage is one step of a translation run.
type Stage string

const (
	StagePending      Stage = "pending"
	StageExtracting   Stage = "extracting"
	StageChunking     Stage = "chunking"
	StageTranslating  Stage = "translating"
	StageReassembling Stage = "reassembling"
	StageBuilding     Stage = "building"
	StageDone         Stage = "done"
	StageError        Stage = "error"
)

var order = []Stage{
	StagePending,
	StageExtracting,
	StageChunking,
	StageTranslating,
	StageReassembling,
	StageBuilding,
	StageDone,
}

// Terminal reports whether no further transition is allowed.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageError
}

func (s Stage) rank() int {
	for i, o := range order {
		if o == s {
			return i
		}
	}
	return -1
}

// Tracker enforces the stage order of a single run. Stages advance one at a
// time; error is reachable from any non-terminal stage.
type Tracker struct {
	stage  Stage
	failed Stage
}

func NewTracker() *Tracker {
	return &Tracker{stage: StagePending}
}

// Stage returns the current stage.
func (t *Tracker) Stage() Stage { return t.stage }

// FailedStage returns the stage that was active when Fail was called.
func (t *Tracker) FailedStage() Stage { return t.failed }

// Advance moves to next, which must directly follow the current stage.
func (t *Tracker) Advance(next Stage) error {
	if t.stage.Terminal() {
		return fmt.Errorf("stage %s is terminal, cannot move to %s", t.stage, next)
	}
	cur, nxt := t.stage.rank(), next.rank()
	if nxt < 0 || nxt != cur+1 {
		return fmt.Errorf("invalid stage transition %s -> %s", t.stage, next)
	}
	t.stage = next
	return nil
}

// Fail moves to the error stage and records where the run stopped.
func (t *Tracker) Fail() error {
	if t.stage.Terminal() {
		return fmt.Errorf("stage %s is terminal, cannot fail", t.stage)
	}
	t.failed = t.stage
	t.stage = StageError
	return nil
}

// Event reports run progress. During translating Done and Total count
// chunks; for an error event Kind names the error and FailedStage the stage
// that raised it.
type Event struct {
	RunID       string    `json:"run_id"`
	Stage       Stage     `json:"stage"`
	Done        int       `json:"done,omitempty"`
	Total       int       `json:"total,omitempty"`
	Message     string    `json:"message,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	FailedStage Stage     `json:"failed_stage,omitempty"`
	Time        time.Time `json:"time"`
}

// Emit receives events in order from the goroutine calling Run.
type Emit func(Event)

// Percent maps the event onto a 0-100 progress scale. Translation spans
// 40 to 70 in proportion to finished chunks. An error event reports the
// percentage of the stage that failed.
func (e Event) Percent() int {
	stage := e.Stage
	if stage == StageError {
		stage = e.FailedStage
	}
	switch stage {
	case StageExtracting:
		return 15
	case StageChunking:
		return 25
	case StageTranslating:
		if e.Total <= 0 {
			return 40
		}
		done := min(max(e.Done, 0), e.Total)
		return 40 + 30*done/e.Total
	case StageReassembling:
		return 75
	case StageBuilding:
		return 85
	case StageDone:
		return 100
	default:
		return 0
	}
}
