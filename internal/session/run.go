package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/lookout/internal/fsm"
	"github.com/rbright/lookout/internal/ipc"
)

type action int

const (
	actionStart action = iota + 1
	actionStop
	actionSwitch
	actionQuit
)

func (a action) String() string {
	switch a {
	case actionStart:
		return "start"
	case actionStop:
		return "stop"
	case actionSwitch:
		return "switch"
	case actionQuit:
		return "quit"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Run executes queued owner actions sequentially until quit or ctx
// cancellation, then stops any live session.
func (c *Controller) Run(ctx context.Context) Result {
	for {
		select {
		case <-ctx.Done():
			result := c.shutdown()
			result.Err = ctx.Err()
			return result
		case a := <-c.actions:
			switch a {
			case actionStart:
				if err := c.Start(ctx); err != nil && !errors.Is(err, ErrNotIdle) {
					c.logWarn("queued start failed", "error", err.Error())
				}
			case actionStop:
				c.Stop(ctx)
			case actionSwitch:
				if _, err := c.SwitchCamera(ctx); err != nil {
					c.logWarn("queued camera switch failed", "error", err.Error())
				}
			case actionQuit:
				return c.shutdown()
			default:
				result := c.shutdown()
				result.Err = fmt.Errorf("unknown action %d", a)
				return result
			}
		}
	}
}

// shutdown stops the session with a bounded cleanup context.
func (c *Controller) shutdown() Result {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := c.Stop(cleanupCtx)
	if result.State == fsm.StateStarting {
		// A start is still unwinding on another goroutine; wait for it.
		for c.State() != fsm.StateIdle && cleanupCtx.Err() == nil {
			time.Sleep(10 * time.Millisecond)
		}
		if c.State() == fsm.StateActive {
			result = c.Stop(cleanupCtx)
		}
	}
	c.indicator.Hide(cleanupCtx)
	if result.State != fsm.StateIdle {
		result.State = c.State()
	}
	return result
}

// Handle serves IPC commands for the owner process.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch strings.TrimSpace(req.Command) {
	case ipc.CommandStatus:
		return c.statusResponse()
	case ipc.CommandStart:
		return c.requestStart()
	case ipc.CommandStop:
		return c.requestStop(ipc.CommandStop)
	case ipc.CommandToggle:
		if c.State() == fsm.StateIdle {
			return c.requestStart()
		}
		return c.requestStop(ipc.CommandToggle)
	case ipc.CommandSwitch:
		return c.requestSwitch()
	case ipc.CommandQuit:
		return c.enqueue(actionQuit, c.State())
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) statusResponse() ipc.Response {
	state := c.State()
	parts := []string{c.Status()}
	if state == fsm.StateActive {
		if detail := c.describeDevices(); detail != "" {
			parts = append(parts, detail)
		}
		stats := c.Stats()
		parts = append(parts, fmt.Sprintf("frames %d sent/%d dropped/%d failed, audio %d sent/%d dropped/%d failed",
			stats.FramesSent, stats.FramesDropped, stats.FramesFailed,
			stats.ChunksSent, stats.ChunksDropped, stats.ChunksFailed))
	}
	return ipc.Response{OK: true, State: string(state), Message: strings.Join(parts, " | ")}
}

func (c *Controller) requestStart() ipc.Response {
	state := c.State()
	if state != fsm.StateIdle {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot start from state %s", state)}
	}
	return c.enqueue(actionStart, state)
}

// requestStop aborts a pending start directly; an active session is stopped
// by the owner loop.
func (c *Controller) requestStop(source string) ipc.Response {
	state := c.State()
	switch state {
	case fsm.StateStarting:
		c.Stop(context.Background())
		return ipc.Response{OK: true, State: string(state), Message: "start abort requested"}
	case fsm.StateStopping:
		return ipc.Response{OK: false, State: string(state), Error: "already stopping"}
	case fsm.StateActive:
		return c.enqueue(actionStop, state)
	default:
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot %s from state %s", source, state)}
	}
}

func (c *Controller) requestSwitch() ipc.Response {
	state := c.State()
	if !fsm.CanSwitchCamera(state) {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot switch camera from state %s", state)}
	}
	if c.camera == nil || !c.camera.CanSwitch() {
		return ipc.Response{OK: false, State: string(state), Error: "only one camera available"}
	}
	return c.enqueue(actionSwitch, state)
}

func (c *Controller) enqueue(a action, state fsm.State) ipc.Response {
	select {
	case c.actions <- a:
		return ipc.Response{OK: true, State: string(state), Message: a.String() + " requested"}
	default:
		return ipc.Response{OK: false, State: string(state), Error: "owner busy; " + a.String() + " not queued"}
	}
}
