// Package command matches inbound chat messages against the fixed bot
// command table and replies through the session's transport.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dansdan/dansbot/internal/notify"
	"github.com/dansdan/dansbot/internal/rules"
	"github.com/dansdan/dansbot/internal/status"
	"github.com/dansdan/dansbot/internal/transport"
)

const menuText = `📜 Menu:
• .ping
• .alive
• .status
• .menu
• .block <id>
• .unblock <id>
• .toggle <feature>
• .broadcast <text>`

// Replier sends a reply into the chat a command came from.
type Replier interface {
	SendText(ctx context.Context, sessionID, to, text string) (string, error)
}

// StatusSource exposes the connection snapshot for the .status command.
type StatusSource interface {
	Status(sessionID string) status.Snapshot
}

// Dispatcher holds its collaborators directly; they are injected once at
// construction.
type Dispatcher struct {
	replier  Replier
	statuses StatusSource
	rules    *rules.Store
	sink     notify.Sink
	log      *slog.Logger
}

func NewDispatcher(replier Replier, statuses StatusSource, r *rules.Store, sink notify.Sink, log *slog.Logger) *Dispatcher {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Dispatcher{replier: replier, statuses: statuses, rules: r, sink: sink, log: log}
}

// Handle processes one inbound message. Blocked senders are discarded before
// any matching happens; unmatched text is silently ignored. Command failures
// are replied to the sender, never propagated.
func (d *Dispatcher) Handle(sessionID string, msg transport.Message) {
	if msg.IsFromMe {
		return
	}
	if d.rules.IsBlocked(msg.SenderID) {
		d.log.Debug("dropping message from blocked sender", "session", sessionID, "sender", msg.SenderID)
		return
	}

	trimmed := strings.TrimSpace(msg.Text)
	lc := strings.ToLower(trimmed)
	to := msg.ChatID
	if to == "" {
		to = msg.SenderID
	}

	switch {
	case lc == ".ping":
		d.reply(sessionID, to, "🏓 Pong!")
	case lc == ".alive":
		d.reply(sessionID, to, "✅ DansBot is alive!")
	case lc == ".status":
		d.reply(sessionID, to, d.statusText(sessionID))
	case lc == ".menu":
		d.reply(sessionID, to, menuText)
	case matchesCommand(lc, ".block"):
		d.handleBlock(sessionID, to, argAfter(trimmed, ".block"))
	case matchesCommand(lc, ".unblock"):
		d.handleUnblock(sessionID, to, argAfter(trimmed, ".unblock"))
	case matchesCommand(lc, ".toggle"):
		d.handleToggle(sessionID, to, argAfter(trimmed, ".toggle"))
	case matchesCommand(lc, ".broadcast"):
		d.handleBroadcast(sessionID, to, argAfter(trimmed, ".broadcast"))
	}
}

// matchesCommand reports whether lower-cased text invokes a parametric
// command, with or without an argument.
func matchesCommand(lc, name string) bool {
	return lc == name || strings.HasPrefix(lc, name+" ")
}

// argAfter slices the original-case argument out of trimmed text; matching
// was done on the lower-cased copy, so arguments keep their casing.
func argAfter(trimmed, name string) string {
	if len(trimmed) <= len(name) {
		return ""
	}
	return strings.TrimSpace(trimmed[len(name):])
}

func (d *Dispatcher) statusText(sessionID string) string {
	snap := d.statuses.Status(sessionID)
	text := fmt.Sprintf("📊 Status:\n• connection: %s %s\n• last update: %s",
		snap.Emoji, snap.Connection, snap.LastUpdate.Format("2006-01-02 15:04:05"))
	if snap.LastError != "" {
		text += "\n• last error: " + snap.LastError
	}
	return text
}

func (d *Dispatcher) handleBlock(sessionID, to, id string) {
	if id == "" {
		d.reply(sessionID, to, "Usage: .block <id>")
		return
	}
	d.rules.Block(id)
	d.reply(sessionID, to, "🚫 Blocked "+id)
}

func (d *Dispatcher) handleUnblock(sessionID, to, id string) {
	if id == "" {
		d.reply(sessionID, to, "Usage: .unblock <id>")
		return
	}
	d.rules.Unblock(id)
	d.reply(sessionID, to, "✅ Unblocked "+id)
}

func (d *Dispatcher) handleToggle(sessionID, to, feature string) {
	if feature == "" {
		d.reply(sessionID, to, "Usage: .toggle <feature>")
		return
	}
	enabled, err := d.rules.Toggle(feature)
	if err != nil {
		var unknown *rules.ErrUnknownFeature
		if errors.As(err, &unknown) {
			d.reply(sessionID, to, fmt.Sprintf("❌ Unknown feature: %s", feature))
			return
		}
		d.reply(sessionID, to, fmt.Sprintf("❌ Toggle failed: %v", err))
		return
	}
	stateWord := "off"
	if enabled {
		stateWord = "on"
	}
	d.reply(sessionID, to, fmt.Sprintf("🔀 %s is now %s", feature, stateWord))
}

// handleBroadcast acknowledges the command and notifies the operator
// channel; there is no recipient roster, so no multi-recipient fan-out
// happens.
func (d *Dispatcher) handleBroadcast(sessionID, to, text string) {
	if text == "" {
		d.reply(sessionID, to, "Usage: .broadcast <text>")
		return
	}
	d.reply(sessionID, to, "📣 Broadcast noted.")
	go d.sink.SendText(context.Background(), "📣 Broadcast request: "+text)
}

func (d *Dispatcher) reply(sessionID, to, text string) {
	if _, err := d.replier.SendText(context.Background(), sessionID, to, text); err != nil {
		d.log.Warn("command reply failed", "session", sessionID, "to", to, "error", err)
	}
}
