package state

// Trigger represents an event that causes a state transition.
type Trigger string

const (
	// TriggerStart fires when StartSession is called, whether by an
	// operator, the dashboard, or a backoff timer re-entering the flow.
	TriggerStart Trigger = "start"

	// TriggerQRReceived fires when the transport emits a QR challenge.
	TriggerQRReceived Trigger = "qr_received"

	// TriggerPairingRequested fires when a pairing code has been requested
	// for a supplied phone number.
	TriggerPairingRequested Trigger = "pairing_requested"

	// TriggerOpened fires when the transport reports an open connection.
	TriggerOpened Trigger = "opened"

	// TriggerClosed fires when the transport closes for any reason.
	TriggerClosed Trigger = "closed"

	// TriggerTerminalClose fires after a close reason is classified as
	// logged-out/unauthorized. No automatic retry follows.
	TriggerTerminalClose Trigger = "terminal_close"

	// TriggerRetryScheduled fires when a backoff timer has been armed.
	TriggerRetryScheduled Trigger = "retry_scheduled"

	// TriggerStop fires when StopSession is called.
	TriggerStop Trigger = "stop"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
