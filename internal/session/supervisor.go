// Package session implements the connection lifecycle supervisor: it owns
// the state machine, the reconnect policy, and the single active transport
// handle per session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dansdan/dansbot/internal/config"
	"github.com/dansdan/dansbot/internal/notify"
	"github.com/dansdan/dansbot/internal/pairing"
	"github.com/dansdan/dansbot/internal/state"
	"github.com/dansdan/dansbot/internal/status"
	"github.com/dansdan/dansbot/internal/transport"
)

// ErrNoActiveSession is returned when sending through a session that has no
// live transport.
var ErrNoActiveSession = errors.New("no active session")

// MessageHandler consumes inbound messages forwarded by the supervisor.
// Handlers run on their own goroutine and must tolerate concurrent calls
// across sessions.
type MessageHandler func(sessionID string, msg transport.Message)

// QRHandler consumes raw QR challenge strings, e.g. for terminal rendering.
type QRHandler func(sessionID, challenge string)

// TransitionRecorder persists state transitions for operator inspection.
type TransitionRecorder interface {
	SaveState(ctx context.Context, sessionID string, st state.State) error
	LogTransition(ctx context.Context, sessionID string, from, to state.State, trigger string) error
}

// Supervisor drives connection establishment, pairing, reconnection, and
// event fan-out for any number of sessions. Each session has exactly one
// authoritative transport handle at a time; superseded handles are fenced
// off by a generation counter, so their late events cannot overwrite state
// produced by a newer handle.
type Supervisor struct {
	cfg    *config.Config
	dialer transport.Dialer
	sink   notify.Sink
	rec    TransitionRecorder
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	handlersMu sync.RWMutex
	handlers   []MessageHandler
	qrHandlers []QRHandler
}

// session is the supervisor's per-session bookkeeping. All fields are
// guarded by the supervisor mutex; the generation counter fences events
// from superseded transports.
type session struct {
	id        string
	machine   *state.Machine
	status    *status.Store
	artifacts *pairing.Store
	policy    *ReconnectPolicy

	phone      string
	generation uint64
	transport  transport.Transport
	retryTimer *time.Timer
	watchdog   *time.Timer
}

func (sess *session) stopTimers() {
	if sess.retryTimer != nil {
		sess.retryTimer.Stop()
		sess.retryTimer = nil
	}
	sess.stopWatchdog()
}

func (sess *session) stopWatchdog() {
	if sess.watchdog != nil {
		sess.watchdog.Stop()
		sess.watchdog = nil
	}
}

// NewSupervisor creates a supervisor. rec may be nil to skip transition
// persistence; sink may be nil to disable notifications.
func NewSupervisor(cfg *config.Config, dialer transport.Dialer, sink notify.Sink, rec TransitionRecorder, log *slog.Logger) *Supervisor {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Supervisor{
		cfg:      cfg,
		dialer:   dialer,
		sink:     sink,
		rec:      rec,
		log:      log,
		sessions: make(map[string]*session),
	}
}

// OnMessage registers a handler for inbound messages. Self-authored
// messages are filtered out before handlers run.
func (s *Supervisor) OnMessage(h MessageHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// OnQR registers a handler for raw QR challenges as they arrive.
func (s *Supervisor) OnQR(h QRHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.qrHandlers = append(s.qrHandlers, h)
}

// StartSession (re)starts the connection flow for sessionID. Any pending
// backoff timer is cancelled and any prior transport handle is superseded,
// so the call is an idempotent restart. When phone is non-empty a pairing
// code is requested once the transport exists. The returned error reports
// initial dial/open failures; all further progress is event-driven.
func (s *Supervisor) StartSession(ctx context.Context, sessionID, phone string) error {
	s.mu.Lock()
	sess := s.getSessionLocked(sessionID)
	sess.stopTimers()
	sess.generation++
	gen := sess.generation
	prev := sess.transport
	sess.transport = nil
	sess.phone = phone

	s.fire(sess, state.TriggerStart)
	sess.status.SetPhoneNumber(phone)
	sess.status.Set(state.StateConnecting, "")
	s.mu.Unlock()

	if prev != nil {
		// The superseded handle's event stream ends here; anything already
		// in flight is dropped by the generation check.
		go prev.Close()
	}

	s.log.Info("starting session", "session", sessionID, "generation", gen, "phone", phone)

	tr, err := s.dialer.Dial(ctx, sessionID)
	if err != nil {
		return s.startFailed(sessionID, gen, fmt.Errorf("dial transport: %w", err))
	}

	s.mu.Lock()
	if sess.generation != gen {
		// Superseded while dialing.
		s.mu.Unlock()
		tr.Close()
		return nil
	}
	sess.transport = tr
	s.armWatchdogLocked(sess, gen)
	s.mu.Unlock()

	go s.pumpEvents(sessionID, gen, tr)

	if err := tr.Open(ctx); err != nil {
		return s.startFailed(sessionID, gen, fmt.Errorf("open transport: %w", err))
	}

	if phone != "" {
		// Detached from the caller's context: a dashboard request context is
		// cancelled the moment the route returns, long before the network
		// answers the pairing request.
		go s.requestPairingCode(context.Background(), sessionID, gen, tr, phone)
	}
	return nil
}

// StopSession logs out the transport, clears the current handle, cancels
// pending timers, and returns the session to Idle. Persisted credentials
// are left on disk; re-pairing stays an explicit operator action.
func (s *Supervisor) StopSession(ctx context.Context, sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess.stopTimers()
	sess.generation++
	tr := sess.transport
	sess.transport = nil
	sess.phone = ""
	sess.policy.Reset()
	s.fire(sess, state.TriggerStop)
	sess.status.Set(state.StateIdle, "")
	sess.status.SetPhoneNumber("")
	s.mu.Unlock()

	if tr != nil {
		if err := tr.Logout(ctx); err != nil {
			s.log.Warn("logout failed", "session", sessionID, "error", err)
		}
		tr.Close()
	}
	s.log.Info("session stopped", "session", sessionID)
}

// Close tears down all sessions without logging them out. Used on process
// shutdown.
func (s *Supervisor) Close() {
	s.mu.Lock()
	var transports []transport.Transport
	for _, sess := range s.sessions {
		sess.stopTimers()
		sess.generation++
		if sess.transport != nil {
			transports = append(transports, sess.transport)
			sess.transport = nil
		}
	}
	s.mu.Unlock()

	for _, tr := range transports {
		tr.Close()
	}
}

// Status returns the current connection snapshot for sessionID.
func (s *Supervisor) Status(sessionID string) status.Snapshot {
	s.mu.Lock()
	sess := s.getSessionLocked(sessionID)
	s.mu.Unlock()
	return sess.status.Get()
}

// Artifacts returns the current pairing artifacts for sessionID.
func (s *Supervisor) Artifacts(sessionID string) pairing.Artifacts {
	s.mu.Lock()
	sess := s.getSessionLocked(sessionID)
	s.mu.Unlock()
	return sess.artifacts.Get()
}

// Attempts returns the consecutive reconnect-failure count for sessionID.
func (s *Supervisor) Attempts(sessionID string) int {
	s.mu.Lock()
	sess := s.getSessionLocked(sessionID)
	s.mu.Unlock()
	return sess.policy.Attempts()
}

// SendText sends a text message through the session's live transport.
func (s *Supervisor) SendText(ctx context.Context, sessionID, to, text string) (string, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	var tr transport.Transport
	if ok {
		tr = sess.transport
	}
	s.mu.Unlock()

	if tr == nil {
		return "", ErrNoActiveSession
	}
	return tr.SendText(ctx, to, text)
}

func (s *Supervisor) getSessionLocked(id string) *session {
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := &session{
		id:        id,
		machine:   state.NewMachine(),
		status:    status.NewStore(),
		artifacts: pairing.NewStore(s.log.With("session", id), s.sink),
		policy:    NewReconnectPolicy(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay),
	}
	if s.rec != nil {
		sess.machine.OnTransition(func(ctx context.Context, from, to state.State, trigger state.Trigger) {
			if err := s.rec.SaveState(ctx, id, to); err != nil {
				s.log.Error("failed to save state", "session", id, "error", err)
			}
			if err := s.rec.LogTransition(ctx, id, from, to, string(trigger)); err != nil {
				s.log.Error("failed to log transition", "session", id, "error", err)
			}
		})
	}
	s.sessions[id] = sess
	return sess
}

// fire triggers a state transition, logging (not propagating) rejections.
// A rejected trigger means an event arrived in a state where it has no
// meaning, e.g. a QR challenge after the connection already opened.
func (s *Supervisor) fire(sess *session, trigger state.Trigger) bool {
	if err := sess.machine.Fire(context.Background(), trigger); err != nil {
		s.log.Warn("state transition rejected",
			"session", sess.id, "trigger", trigger, "state", sess.machine.MustState(), "error", err)
		return false
	}
	return true
}

// startFailed handles a failed initial dial/open: state goes to Failed with
// the error detail, the operator is notified, and one retry is scheduled on
// the backoff policy. The error is also returned so the caller (dashboard
// route, bridge command) gets an immediate answer.
func (s *Supervisor) startFailed(sessionID string, gen uint64, err error) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.generation != gen {
		s.mu.Unlock()
		return err
	}
	s.fire(sess, state.TriggerClosed)
	s.fire(sess, state.TriggerTerminalClose)
	sess.status.Set(state.StateFailed, err.Error())

	delay := sess.policy.NextBackOff()
	attempt := sess.policy.Attempts()
	phone := sess.phone
	sess.retryTimer = time.AfterFunc(delay, func() {
		_ = s.StartSession(context.Background(), sessionID, phone)
	})
	s.mu.Unlock()

	s.log.Error("session start failed", "session", sessionID, "attempt", attempt, "retry_in", delay, "error", err)
	go s.sink.SendText(context.Background(), fmt.Sprintf("❌ Session start failed: %v — retrying in %s", err, delay))
	return err
}

// armWatchdogLocked schedules the stuck-state watchdog. A session that
// stays in Connecting/AwaitingQr/AwaitingPairing past the timeout is forced
// into the normal disconnect-and-retry path.
func (s *Supervisor) armWatchdogLocked(sess *session, gen uint64) {
	sessionID := sess.id
	sess.watchdog = time.AfterFunc(s.cfg.PendingTimeout, func() {
		s.watchdogFired(sessionID, gen)
	})
}

func (s *Supervisor) watchdogFired(sessionID string, gen uint64) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.generation != gen {
		s.mu.Unlock()
		return
	}
	if !sess.machine.MustState().IsPending() {
		s.mu.Unlock()
		return
	}

	sess.generation++
	tr := sess.transport
	sess.transport = nil
	s.fire(sess, state.TriggerClosed)
	sess.status.Set(state.StateDisconnected, "no terminal event within pending timeout")
	delay, attempt := s.scheduleRetryLocked(sess)
	s.mu.Unlock()

	s.log.Warn("watchdog forced reconnect", "session", sessionID, "attempt", attempt, "retry_in", delay)
	if tr != nil {
		go tr.Close()
	}
}

// pumpEvents drains one transport's event stream. It exits when the
// transport is closed; stale generations are dropped inside handleEvent.
func (s *Supervisor) pumpEvents(sessionID string, gen uint64, tr transport.Transport) {
	for evt := range tr.Events() {
		s.handleEvent(sessionID, gen, evt)
	}
}

func (s *Supervisor) handleEvent(sessionID string, gen uint64, evt transport.Event) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.generation != gen {
		// Superseded handle; a state update from generation g never
		// overwrites one from a newer generation.
		s.mu.Unlock()
		return
	}

	switch evt.Type {
	case transport.EventQR:
		if !s.fire(sess, state.TriggerQRReceived) {
			s.mu.Unlock()
			return
		}
		sess.status.Set(state.StateAwaitingQR, "")
		art := sess.artifacts
		challenge := evt.QRChallenge
		s.mu.Unlock()
		// PNG encoding and the notification leave the event path. The store's
		// generation fence drops the write if this handle gets superseded
		// before the goroutine runs.
		go func() {
			if err := art.PutQRChallenge(context.Background(), gen, challenge); err != nil {
				s.log.Error("failed to store QR artifact", "session", sessionID, "error", err)
			}
		}()
		s.handlersMu.RLock()
		qrHandlers := make([]QRHandler, len(s.qrHandlers))
		copy(qrHandlers, s.qrHandlers)
		s.handlersMu.RUnlock()
		for _, h := range qrHandlers {
			go h(sessionID, challenge)
		}

	case transport.EventOpened:
		sess.stopWatchdog()
		if !s.fire(sess, state.TriggerOpened) {
			s.mu.Unlock()
			return
		}
		sess.policy.Reset()
		sess.artifacts.Clear(gen)
		sess.status.Set(state.StateConnected, "")
		sess.status.SetPhoneNumber("")
		s.mu.Unlock()
		s.log.Info("session connected", "session", sessionID)
		go s.sink.SendText(context.Background(), "✅ WhatsApp connected!")

	case transport.EventClosed:
		s.handleCloseLocked(sess, evt.Close)

	case transport.EventMessage:
		msg := evt.Message
		s.mu.Unlock()
		if msg == nil || msg.IsFromMe {
			return
		}
		s.handlersMu.RLock()
		handlers := make([]MessageHandler, len(s.handlers))
		copy(handlers, s.handlers)
		s.handlersMu.RUnlock()
		for _, h := range handlers {
			go h(sessionID, *msg)
		}

	default:
		s.mu.Unlock()
	}
}

// handleCloseLocked classifies the close reason and either terminates the
// session (logged out) or schedules a reconnect with backoff. Called with
// the supervisor mutex held; releases it.
func (s *Supervisor) handleCloseLocked(sess *session, info transport.CloseInfo) {
	sessionID := sess.id
	sess.stopWatchdog()
	sess.generation++
	tr := sess.transport
	sess.transport = nil

	s.fire(sess, state.TriggerClosed)
	sess.status.Set(state.StateDisconnected, info.Reason)

	if info.LoggedOut {
		// Terminal: no retry, artifacts stay for operator inspection until
		// a manual re-pair.
		s.fire(sess, state.TriggerTerminalClose)
		sess.status.Set(state.StateFailed, info.Reason)
		s.mu.Unlock()

		s.log.Error("session logged out, manual re-pair required", "session", sessionID, "reason", info.Reason)
		go s.sink.SendText(context.Background(), "⚠️ Session logged out — re-pair required.")
		if tr != nil {
			go tr.Close()
		}
		return
	}

	delay, attempt := s.scheduleRetryLocked(sess)
	s.mu.Unlock()

	s.log.Warn("session disconnected, reconnect scheduled",
		"session", sessionID, "reason", info.Reason, "attempt", attempt, "retry_in", delay)
	go s.sink.SendText(context.Background(),
		fmt.Sprintf("🔴 WhatsApp disconnected (%s) — reconnecting in %s", info.Reason, delay))
	if tr != nil {
		go tr.Close()
	}
}

func (s *Supervisor) scheduleRetryLocked(sess *session) (time.Duration, int) {
	delay := sess.policy.NextBackOff()
	attempt := sess.policy.Attempts()
	s.fire(sess, state.TriggerRetryScheduled)
	sess.status.Set(state.StateReconnecting, sess.status.Get().LastError)

	sessionID, phone := sess.id, sess.phone
	sess.retryTimer = time.AfterFunc(delay, func() {
		_ = s.StartSession(context.Background(), sessionID, phone)
	})
	return delay, attempt
}

// requestPairingCode issues the pairing-code request for a supplied phone
// number. A failure is surfaced through the status snapshot and the
// operator channel; the pairing call itself is not retried — the caller may
// retry by calling StartSession again.
func (s *Supervisor) requestPairingCode(ctx context.Context, sessionID string, gen uint64, tr transport.Transport, phone string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.generation != gen {
		s.mu.Unlock()
		return
	}
	s.fire(sess, state.TriggerPairingRequested)
	sess.status.Set(state.StateAwaitingPairing, "")
	art := sess.artifacts
	s.mu.Unlock()

	s.log.Info("requesting pairing code", "session", sessionID, "phone", phone)
	code, err := tr.RequestPairingCode(ctx, phone)
	if err != nil {
		s.mu.Lock()
		if sess.generation == gen {
			sess.status.Set(sess.machine.MustState(), "pairing request failed: "+err.Error())
		}
		s.mu.Unlock()
		s.log.Error("pairing code request failed", "session", sessionID, "error", err)
		go s.sink.SendText(context.Background(), fmt.Sprintf("❌ Pairing code error: %v", err))
		return
	}

	// The store's fence drops the code if this handle was superseded while
	// the request was in flight.
	art.PutCode(context.Background(), gen, code)
}
