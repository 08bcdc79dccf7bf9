package interop

import (
	"time"

	"github.com/danmuck/framestream/internal/stream"
)

// BannerPrefix starts the final pass/fail line of every run.
const BannerPrefix = "&&&& framestream interop test"

// Step names the orchestrator stage a Report failed in.
type Step string

const (
	StepConfig     Step = "config"
	StepNegotiate  Step = "negotiate"
	StepDisplay    Step = "display"
	StepChannel    Step = "channel"
	StepContexts   Step = "contexts"
	StepConnect    Step = "connect"
	StepTransfer   Step = "transfer"
	StepDisconnect Step = "disconnect"
	StepQuery      Step = "query"
	StepTeardown   Step = "teardown"
	StepDone       Step = "done"
)

// Report is the aggregate outcome of one Run.
type Report struct {
	RunID  string
	Passed bool
	// Step is the first failing step, or StepDone.
	Step Step
	Err  error

	FramesPushed int
	FramesPulled int
	// RolesConnected counts successful role connects, consumer included.
	RolesConnected int
	// ConsumerDisconnectSkipped is set when the Channel was already
	// DISCONNECTED by the time the consumer would have detached.
	ConsumerDisconnectSkipped bool

	FinalState stream.State
	Stats      stream.Stats
	// TeardownErrs holds failures that happened after the first error.
	TeardownErrs []error
	Duration     time.Duration
}

func (r Report) Banner() string {
	if r.Passed {
		return BannerPrefix + " PASSED"
	}
	return BannerPrefix + " FAILED"
}

// ExitCode maps the outcome to a process exit status. legacyZero restores
// the always-zero behaviour where failure is visible in the banner only.
func (r Report) ExitCode(legacyZero bool) int {
	if r.Passed || legacyZero {
		return 0
	}
	return 1
}

func (r *Report) fail(step Step, err error) {
	if err == nil {
		return
	}
	if r.Err == nil {
		r.Step = step
		r.Err = err
		return
	}
	r.TeardownErrs = append(r.TeardownErrs, err)
}
