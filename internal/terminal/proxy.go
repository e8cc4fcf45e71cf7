package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/antonkrylov/termhost/internal/events"
)

// Proxy turns controller actions into operations on one service and collects
// terminal output into responses. It keeps no terminal state of its own; a
// connection may create as many proxies for the same service as it likes.
type Proxy struct {
	reg        *Registry
	serviceID  string
	persistent bool
	user       *UserContext
	logger     *slog.Logger
}

// NewProxy returns a proxy for serviceID. A nil persistent takes the mode of
// the existing service, or non-persistent when there is none.
func NewProxy(reg *Registry, serviceID string, persistent *bool, user *UserContext) *Proxy {
	p := &Proxy{
		reg:       reg,
		serviceID: serviceID,
		user:      user,
		logger:    reg.logger.With("service", serviceID),
	}
	switch {
	case persistent != nil:
		p.persistent = *persistent
	default:
		if svc := reg.Get(serviceID); svc != nil {
			p.persistent = svc.Persistent()
		}
	}
	return p
}

// ServiceID returns the id of the proxied service.
func (p *Proxy) ServiceID() string { return p.serviceID }

// Persistent reports the persistence mode the proxy was resolved with.
func (p *Proxy) Persistent() bool { return p.persistent }

// HandleAction dispatches one action. A nil response means the action has no
// reply. The returned error is for the transport to log; it is never sent to
// the controller.
func (p *Proxy) HandleAction(ctx context.Context, action Action) (Response, error) {
	svc := p.reg.Get(p.serviceID)
	if svc == nil {
		return ErrorResponse{Message: fmt.Sprintf("Terminal service %s not found", p.serviceID)}, nil
	}
	svc.touch()

	switch a := action.(type) {
	case OpenAction:
		return p.open(ctx, svc, a), nil
	case ResizeAction:
		sess := svc.Session(a.TerminalID)
		if sess == nil {
			return nil, nil
		}
		return nil, sess.Resize(a.Rows, a.Cols)
	case DataAction:
		sess := svc.Session(a.TerminalID)
		if sess == nil {
			return nil, nil
		}
		if err := sess.Write(a.Data); err != nil {
			return nil, fmt.Errorf("write terminal %d: %w", a.TerminalID, err)
		}
		return nil, nil
	case CloseAction:
		return p.close(svc, a), nil
	default:
		return nil, fmt.Errorf("unsupported terminal action %T", action)
	}
}

func (p *Proxy) open(ctx context.Context, svc *Service, a OpenAction) Response {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if _, ok := svc.sessions[a.TerminalID]; !ok && svc.needsSync && len(svc.sessions) > 0 {
		lowest := slices.Min(sessionIDsLocked(svc))
		p.logger.Info("remapping persistent terminal for reconnection", "from", lowest, "to", a.TerminalID)
		moved := svc.sessions[lowest]
		delete(svc.sessions, lowest)
		moved.rekey(a.TerminalID)
		svc.sessions[a.TerminalID] = moved
	}

	var carried *OutputBuffer
	if sess, ok := svc.sessions[a.TerminalID]; ok {
		if sess.Running() {
			pid := sess.attach(true)
			opened := OpenedResponse{
				TerminalID: a.TerminalID,
				Success:    true,
				Message:    "Reconnected to existing terminal",
				Pid:        uint32(pid),
				ServiceID:  svc.id,
			}
			if svc.needsSync {
				if len(svc.sessions) > 1 {
					opened.PersistentSessions = siblingIDsLocked(svc, a.TerminalID)
				}
				svc.needsSync = false
			}
			p.logger.Info("terminal reconnected", "terminal", a.TerminalID, "pid", pid)
			return opened
		}
		// The shell of a persistent terminal has exited; start a new one
		// under the same id and keep the history.
		delete(svc.sessions, a.TerminalID)
		sess.Stop()
		carried = sess.buffer
	}

	sess := newSession(a.TerminalID, a.Rows, a.Cols, carried, p.reg.sessionDeps())
	if err := sess.open(ctx, p.reg.spawnerFor(svc.specifiedUser), p.user); err != nil {
		p.logger.Error("open terminal", "terminal", a.TerminalID, "err", err)
		return ErrorResponse{Message: fmt.Sprintf("Failed to open terminal %d: %v", a.TerminalID, err)}
	}
	pid := sess.attach(false)

	message := "Terminal opened"
	if carried != nil {
		message = "Terminal restarted"
	}
	opened := OpenedResponse{
		TerminalID: a.TerminalID,
		Success:    true,
		Message:    message,
		Pid:        uint32(pid),
		ServiceID:  svc.id,
	}
	if svc.needsSync {
		if len(svc.sessions) > 0 {
			opened.PersistentSessions = sessionIDsLocked(svc)
		}
		svc.needsSync = false
	}
	svc.sessions[a.TerminalID] = sess

	p.logger.Info("terminal opened", "terminal", a.TerminalID, "pid", pid)
	p.reg.publish(events.Event{
		Kind:       events.TerminalOpened,
		ServiceID:  svc.id,
		TerminalID: a.TerminalID,
		Pid:        pid,
		Persistent: svc.persistent,
	})
	return opened
}

func (p *Proxy) close(svc *Service, a CloseAction) Response {
	svc.mu.Lock()
	sess, ok := svc.sessions[a.TerminalID]
	if ok {
		delete(svc.sessions, a.TerminalID)
	}
	svc.mu.Unlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	exitCode := sess.releaseChild(true)
	sess.closedSent = true
	sess.mu.Unlock()
	sess.Stop()

	p.logger.Info("terminal closed", "terminal", a.TerminalID, "exit_code", exitCode)
	p.reg.publish(events.Event{
		Kind:       events.TerminalClosed,
		ServiceID:  svc.id,
		TerminalID: a.TerminalID,
		ExitCode:   exitCode,
		Reason:     "closed",
	})
	return ClosedResponse{TerminalID: a.TerminalID, ExitCode: exitCode}
}

// DrainOutputs collects the output of every terminal of the service. It is
// meant to be called on a fixed cadence and never waits for a busy terminal:
// a session whose lock is held is skipped until the next call. Terminals
// whose shell ended produce a ClosedResponse once; non-persistent services
// drop them, persistent services keep their history.
func (p *Proxy) DrainOutputs() []Response {
	svc := p.reg.Get(p.serviceID)
	if svc == nil {
		return nil
	}
	persistent := p.persistent

	var out []Response
	type ended struct {
		id       int32
		session  *Session
		exitCode int32
	}
	var finished []ended
	for _, e := range svc.snapshot() {
		sess := e.session
		if !sess.mu.TryLock() {
			continue
		}
		done := false
		if !sess.closedSent && sess.readerFinished() {
			sess.closedSent = true
			done = true
		}
		out = append(out, sess.drainLocked(e.id, sess.opened)...)
		if done {
			finished = append(finished, ended{id: e.id, session: sess, exitCode: sess.releaseChild(false)})
		}
		sess.mu.Unlock()
	}

	for _, f := range finished {
		out = append(out, ClosedResponse{TerminalID: f.id, ExitCode: f.exitCode})
		reason := "exited"
		if !persistent && svc.removeIf(f.id, f.session) {
			reason = "exited_removed"
		}
		f.session.Stop()
		p.logger.Info("terminal exited", "terminal", f.id, "exit_code", f.exitCode, "persistent", persistent)
		p.reg.publish(events.Event{
			Kind:       events.TerminalClosed,
			ServiceID:  svc.id,
			TerminalID: f.id,
			ExitCode:   f.exitCode,
			Persistent: persistent,
			Reason:     reason,
		})
	}
	return out
}

// OnDisconnect is called when the controller connection goes away.
// Non-persistent services are removed with all of their terminals.
func (p *Proxy) OnDisconnect() {
	svc := p.reg.Get(p.serviceID)
	if svc == nil {
		return
	}
	if p.persistent {
		for _, e := range svc.snapshot() {
			e.session.detach()
		}
		return
	}
	p.reg.remove(p.serviceID, "disconnected")
}

func sessionIDsLocked(svc *Service) []int32 {
	ids := make([]int32, 0, len(svc.sessions))
	for id := range svc.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func siblingIDsLocked(svc *Service, self int32) []int32 {
	ids := sessionIDsLocked(svc)
	return slices.DeleteFunc(ids, func(id int32) bool { return id == self })
}
