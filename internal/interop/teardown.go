package interop

import (
	"fmt"

	logs "github.com/danmuck/framestream/internal/logging"
)

type release struct {
	name string
	fn   func() error
}

// releaseStack unwinds registered releases in reverse acquisition order.
// Unwinding twice is a no-op.
type releaseStack struct {
	steps    []release
	unwound  bool
	executed []string
}

func (s *releaseStack) push(name string, fn func() error) {
	s.steps = append(s.steps, release{name: name, fn: fn})
}

func (s *releaseStack) unwind(rep *Report) {
	if s.unwound {
		return
	}
	s.unwound = true
	for i := len(s.steps) - 1; i >= 0; i-- {
		r := s.steps[i]
		s.executed = append(s.executed, r.name)
		if err := r.fn(); err != nil {
			logs.Warnf("interop.releaseStack.unwind step=%s err=%v", r.name, err)
			rep.fail(StepTeardown, fmt.Errorf("%s: %w", r.name, err))
		}
	}
	s.steps = nil
}
