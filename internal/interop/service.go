// Package interop drives one producer/consumer exchange over a Channel.
//
// Ownership boundary:
// - setup order: capabilities, display, Channel, execution contexts
//
// - the handshake: consumer connects before producer
//
// - the fixed two-frame transfer and the guaranteed teardown
//
// Every resource Run acquires is pushed onto a release stack the moment it
// exists; the stack unwinds exactly once on every exit path.
package interop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/framestream/internal/consumer"
	logs "github.com/danmuck/framestream/internal/logging"
	"github.com/danmuck/framestream/internal/observability"
	"github.com/danmuck/framestream/internal/platform"
	"github.com/danmuck/framestream/internal/producer"
	"github.com/danmuck/framestream/internal/stream"
	"github.com/google/uuid"
)

// Service runs the exchange described by its ServiceConfig.
type Service struct {
	cfg ServiceConfig

	mu     sync.Mutex
	runID  string
	step   Step
	handle *stream.Handle
}

// Interop service constructor using default config.
func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

// Interop service constructor using explicit config.
func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(string(cfg.Mode)) == "" {
		cfg.Mode = stream.ModeMailbox
	}
	if len(cfg.Environment.Displays) == 0 && len(cfg.Environment.Capabilities) == 0 {
		cfg.Environment = platform.DefaultEnvironment()
	}
	return &Service{cfg: cfg}
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// Run performs the exchange and always returns a Report. Teardown has
// finished by the time Run returns.
func (s *Service) Run(ctx context.Context) (rep Report) {
	start := time.Now()
	runID := strings.TrimSpace(s.cfg.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	s.mu.Lock()
	s.runID = runID
	s.handle = nil
	s.mu.Unlock()

	rep = Report{RunID: runID, Step: StepDone, FinalState: stream.StateBadStream}
	var rs releaseStack
	defer func() {
		s.enter(StepTeardown)
		rs.unwind(&rep)
		rep.Passed = rep.Err == nil
		rep.Duration = time.Since(start)
		observability.RecordRun(rep.Passed)
		if rep.Passed {
			logs.Infof("interop.Service.Run run=%s passed=true frames=%d final_state=%s duration=%s", runID, rep.FramesPulled, rep.FinalState, rep.Duration)
		} else {
			logs.Errf("interop.Service.Run run=%s passed=false step=%s err=%v final_state=%s", runID, rep.Step, rep.Err, rep.FinalState)
		}
		s.enter(StepDone)
	}()

	s.enter(StepConfig)
	if err := s.cfg.Validate(); err != nil {
		rep.fail(StepConfig, err)
		return rep
	}
	if addr := strings.TrimSpace(s.cfg.StatusAddr); addr != "" {
		status := observability.NewStatusServer("framestream", s.Snapshot, s.cfg.CORSOrigins)
		if _, err := status.Start(addr); err != nil {
			rep.fail(StepConfig, fmt.Errorf("status server: %w", err))
			return rep
		}
		rs.push("status.shutdown", func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return status.Shutdown(sctx)
		})
	}

	// 1. capabilities
	s.enter(StepNegotiate)
	ext, err := s.cfg.Environment.Negotiate(platform.RequiredCapabilities())
	if err != nil {
		rep.fail(StepNegotiate, err)
		return rep
	}

	// 2. display and Channel
	s.enter(StepDisplay)
	display, err := s.cfg.Environment.OpenDisplay(s.cfg.Display)
	if err != nil {
		rep.fail(StepDisplay, err)
		return rep
	}
	rs.push("display.terminate", func() error {
		display.Terminate()
		return nil
	})

	s.enter(StepChannel)
	handle, err := stream.Open(display, ext, s.cfg.Mode, stream.Attributes{
		LatencyBudget:  s.cfg.LatencyBudget,
		AcquireTimeout: s.cfg.AcquireTimeout,
	})
	if err != nil {
		rep.fail(StepChannel, err)
		return rep
	}
	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()
	rs.push("channel.destroy", func() error {
		return destroyChannel(handle, &rep)
	})

	// 3. execution contexts
	s.enter(StepContexts)
	prod, err := producer.New(handle, producer.Config{Name: "producer", Format: s.cfg.Format})
	if err != nil {
		rep.fail(StepContexts, err)
		return rep
	}
	rs.push("producer.close", prod.Close)
	cons, err := consumer.New(handle, consumer.Config{Name: "consumer", Format: s.cfg.Format})
	if err != nil {
		rep.fail(StepContexts, err)
		return rep
	}
	rs.push("consumer.close", cons.Close)
	rs.push("roles.disconnect", func() error {
		return disconnectRoles(handle, prod, cons)
	})

	// 4. handshake
	s.enter(StepConnect)
	if err := cons.Connect(); err != nil {
		rep.fail(StepConnect, err)
		return rep
	}
	rep.RolesConnected++
	if err := prod.Connect(); err != nil {
		rep.fail(StepConnect, err)
		return rep
	}
	rep.RolesConnected++

	// 5. transfer
	s.enter(StepTransfer)
	for i := 0; i < FrameCount; i++ {
		err := s.cycle(ctx, prod, cons, i)
		rep.FramesPushed = prod.Pushed()
		rep.FramesPulled = cons.Pulled()
		if err != nil {
			rep.fail(StepTransfer, fmt.Errorf("frame %d: %w", i+1, err))
			return rep
		}
	}
	if rep.FramesPushed != FrameCount || rep.FramesPulled != FrameCount {
		rep.fail(StepTransfer, fmt.Errorf("%w: pushed=%d pulled=%d want=%d", ErrFrameCountMismatch, rep.FramesPushed, rep.FramesPulled, FrameCount))
		return rep
	}

	// 6. end of production
	s.enter(StepDisconnect)
	if err := prod.Disconnect(); err != nil {
		rep.fail(StepDisconnect, err)
		return rep
	}

	// 7. consumer detaches only from a live Channel
	s.enter(StepQuery)
	state, err := handle.QueryState()
	if err != nil {
		rep.fail(StepQuery, err)
		return rep
	}
	if state == stream.StateDisconnected {
		rep.ConsumerDisconnectSkipped = true
		logs.Infof("interop.Service.Run run=%s consumer disconnect skipped state=%s", runID, state)
		return rep
	}
	s.enter(StepDisconnect)
	if err := cons.Disconnect(); err != nil {
		rep.fail(StepDisconnect, err)
	}
	return rep
}

func (s *Service) cycle(ctx context.Context, prod *producer.Producer, cons *consumer.Consumer, i int) error {
	if err := prod.PushFrame(ctx, s.cfg.Inputs[i]); err != nil {
		return err
	}
	frame, err := s.pull(ctx, cons)
	if err != nil {
		return err
	}
	return cons.Process(ctx, frame, s.cfg.Outputs[i])
}

// pull retries ErrAcquireTimeout up to AcquireRetries times.
func (s *Service) pull(ctx context.Context, cons *consumer.Consumer) (*stream.Frame, error) {
	for attempt := 0; ; attempt++ {
		f, err := cons.PullFrame(ctx)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, stream.ErrAcquireTimeout) || attempt >= s.cfg.AcquireRetries {
			return nil, err
		}
		logs.Warnf("interop.Service.pull acquire timeout attempt=%d retries=%d", attempt+1, s.cfg.AcquireRetries)
	}
}

// disconnectRoles runs first during teardown. It re-queries the Channel and
// detaches only roles still attached to a live Channel, so a role is never
// disconnected twice.
func disconnectRoles(handle *stream.Handle, prod *producer.Producer, cons *consumer.Consumer) error {
	state, err := handle.QueryState()
	if err != nil {
		return fmt.Errorf("query state: %w", err)
	}
	if state == stream.StateDisconnected {
		return nil
	}
	var errs []error
	if prod.Connected() {
		if err := prod.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("producer: %w", err))
		}
		if state, err = handle.QueryState(); err != nil {
			return errors.Join(append(errs, fmt.Errorf("query state: %w", err))...)
		}
	}
	if state != stream.StateDisconnected && cons.Connected() {
		if err := cons.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("consumer: %w", err))
		}
	}
	return errors.Join(errs...)
}

// destroyChannel records the state teardown observed and releases the
// Channel through the handle, which destroys it at most once.
func destroyChannel(handle *stream.Handle, rep *Report) error {
	state, qerr := handle.QueryState()
	rep.FinalState = state
	rep.Stats = handle.Channel.Stats()
	logs.Infof("interop.destroyChannel state=%s presented=%d acquired=%d released=%d dropped=%d",
		state, rep.Stats.Presented, rep.Stats.Acquired, rep.Stats.Released, rep.Stats.Dropped)
	var errs []error
	if qerr != nil {
		errs = append(errs, fmt.Errorf("query state: %w", qerr))
	}
	if err := handle.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) enter(step Step) {
	s.mu.Lock()
	s.step = step
	s.mu.Unlock()
	logs.Debugf("interop.Service.step step=%s", step)
}

// Snapshot reports the current step and Channel accounting for the status server.
func (s *Service) Snapshot() observability.StreamSnapshot {
	s.mu.Lock()
	runID, step, handle := s.runID, s.step, s.handle
	s.mu.Unlock()

	snap := observability.StreamSnapshot{RunID: runID, Step: string(step), State: stream.StateBadStream.String()}
	if handle == nil {
		return snap
	}
	state, _ := handle.QueryState()
	st := handle.Channel.Stats()
	snap.State = state.String()
	snap.Presented = st.Presented
	snap.Acquired = st.Acquired
	snap.Released = st.Released
	snap.Dropped = st.Dropped
	snap.Reclaimed = st.Reclaimed
	snap.Timeouts = st.Timeouts
	snap.Buffers = st.Buffers
	return snap
}
