package recorder

import "log/slog"

// Session manages nested chains. A started session receives every Add until it
// is restored; the chain below resumes once the session's queue is drained.
type Session struct {
	r *Recorder
}

// Start isolates subsequent tasks in a new chain named name. Started from a
// running task, the session runs before the rest of that task's chain;
// otherwise it runs after everything already queued.
func (s *Session) Start(name string) {
	r := s.r
	r.mu.Lock()
	floor := 0
	for i := len(r.stack) - 1; i >= 0; i-- {
		if r.stack[i].busy {
			floor = i + 1
			break
		}
	}
	r.stack = append(r.stack, &chain{name: name, after: r.seq, floor: floor})
	r.tasks = append(r.tasks, "--->")
	queue, depth := r.queueID, len(r.stack)-1
	r.mu.Unlock()
	r.logger.Debug("session started", slog.Int("queue", queue), slog.String("session", name), slog.Int("depth", depth))
}

// Restore closes the innermost open session. Any rejection left in it is
// discarded; new tasks go to the enclosing chain again and run after the
// session's remaining tasks.
func (s *Session) Restore(name string) {
	r := s.r
	r.mu.Lock()
	c := r.currentLocked()
	if c == r.stack[0] {
		r.mu.Unlock()
		r.logger.Warn("no session to restore", slog.String("session", name))
		return
	}
	if name != "" && c.name != name {
		r.logger.Debug("restoring session under a different name",
			slog.String("session", c.name), slog.String("requested", name))
	}
	r.pushLocked(c, &entry{kind: kindCatch})
	c.closed = true
	r.tasks = append(r.tasks, "<---")
	queue := r.queueID
	r.mu.Unlock()
	r.logger.Debug("session restored", slog.Int("queue", queue), slog.String("session", c.name))
}

// Catch handles a rejection inside the current session without stopping.
func (s *Session) Catch(fn CatchFunc) *Future {
	return s.r.CatchWithoutStop(fn)
}

// ID returns the name of the innermost open session, or "".
func (s *Session) ID() string {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.currentLocked()
	if c == r.stack[0] {
		return ""
	}
	return c.name
}

// Running reports whether a session is open.
func (s *Session) Running() bool {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked() != r.stack[0]
}
