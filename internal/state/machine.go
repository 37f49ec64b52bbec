package state

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"
)

// TransitionCallback is called when a state transition occurs.
type TransitionCallback func(ctx context.Context, from, to State, trigger Trigger)

// Machine wraps the stateless state machine with session-lifecycle behavior.
// One Machine exists per session; only the supervisor fires triggers.
type Machine struct {
	sm          *stateless.StateMachine
	callbacks   []TransitionCallback
	callbacksMu sync.RWMutex
}

// NewMachine creates a new state machine starting in Idle.
func NewMachine() *Machine {
	m := &Machine{
		callbacks: make([]TransitionCallback, 0),
	}

	sm := stateless.NewStateMachine(StateIdle)

	sm.Configure(StateIdle).
		Permit(TriggerStart, StateConnecting).
		Ignore(TriggerStop)

	sm.Configure(StateConnecting).
		Permit(TriggerQRReceived, StateAwaitingQR).
		Permit(TriggerPairingRequested, StateAwaitingPairing).
		Permit(TriggerOpened, StateConnected).
		Permit(TriggerClosed, StateDisconnected).
		Permit(TriggerStop, StateIdle).
		PermitReentry(TriggerStart)

	sm.Configure(StateAwaitingQR).
		Permit(TriggerOpened, StateConnected).
		Permit(TriggerClosed, StateDisconnected).
		Permit(TriggerPairingRequested, StateAwaitingPairing).
		Permit(TriggerStart, StateConnecting).
		Permit(TriggerStop, StateIdle).
		// WhatsApp rotates QR challenges while waiting for a scan.
		PermitReentry(TriggerQRReceived)

	sm.Configure(StateAwaitingPairing).
		Permit(TriggerOpened, StateConnected).
		Permit(TriggerClosed, StateDisconnected).
		Permit(TriggerQRReceived, StateAwaitingQR).
		Permit(TriggerStart, StateConnecting).
		Permit(TriggerStop, StateIdle)

	sm.Configure(StateConnected).
		Permit(TriggerClosed, StateDisconnected).
		Permit(TriggerStart, StateConnecting).
		Permit(TriggerStop, StateIdle)

	sm.Configure(StateDisconnected).
		Permit(TriggerTerminalClose, StateFailed).
		Permit(TriggerRetryScheduled, StateReconnecting).
		Permit(TriggerStart, StateConnecting).
		Permit(TriggerStop, StateIdle)

	sm.Configure(StateReconnecting).
		Permit(TriggerStart, StateConnecting).
		Permit(TriggerStop, StateIdle)

	// Failed is terminal for automatic retry: only an explicit restart or
	// stop leaves it.
	sm.Configure(StateFailed).
		Permit(TriggerStart, StateConnecting).
		Permit(TriggerStop, StateIdle)

	sm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		m.callbacksMu.RLock()
		callbacks := make([]TransitionCallback, len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.callbacksMu.RUnlock()

		from := t.Source.(State)
		to := t.Destination.(State)
		trigger := t.Trigger.(Trigger)

		for _, cb := range callbacks {
			cb(ctx, from, to, trigger)
		}
	})

	m.sm = sm
	return m
}

// State returns the current state.
func (m *Machine) State(ctx context.Context) (State, error) {
	state, err := m.sm.State(ctx)
	if err != nil {
		return "", err
	}
	return state.(State), nil
}

// Fire triggers a state transition.
func (m *Machine) Fire(ctx context.Context, trigger Trigger, args ...any) error {
	return m.sm.FireCtx(ctx, trigger, args...)
}

// CanFire returns true if the trigger can be fired from the current state.
func (m *Machine) CanFire(ctx context.Context, trigger Trigger, args ...any) (bool, error) {
	return m.sm.CanFireCtx(ctx, trigger, args...)
}

// OnTransition registers a callback to be called on state transitions.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// MustState returns the current state, panicking on error.
func (m *Machine) MustState() State {
	state, err := m.State(context.Background())
	if err != nil {
		panic(err)
	}
	return state
}
