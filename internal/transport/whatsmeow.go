package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Common errors
var (
	ErrNotConnected = errors.New("not connected to WhatsApp")
	ErrClosed       = errors.New("transport is closed")
)

// WhatsmeowDialer creates whatsmeow-backed transports. Each session gets its
// own credential container under <sessionDir>/<sessionID>.db; whatsmeow
// persists credential updates into the container on its own, so credential
// save-on-update needs no wiring here.
type WhatsmeowDialer struct {
	sessionDir string
	log        *slog.Logger
}

// NewWhatsmeowDialer creates a dialer storing per-session credentials under
// sessionDir.
func NewWhatsmeowDialer(sessionDir string, log *slog.Logger) *WhatsmeowDialer {
	return &WhatsmeowDialer{sessionDir: sessionDir, log: log}
}

// Dial opens the credential container for sessionID and builds a transport
// around a fresh whatsmeow client. The connection itself is not started
// until Open is called.
func (d *WhatsmeowDialer) Dial(ctx context.Context, sessionID string) (Transport, error) {
	if err := os.MkdirAll(d.sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(d.sessionDir, sessionID+".db"))
	log := d.log.With("session", sessionID)

	container, err := sqlstore.New(ctx, "sqlite3", dsn, &slogAdapter{log: log.With("component", "whatsmeow-db")})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to load device credentials: %w", err)
	}

	client := whatsmeow.NewClient(device, &slogAdapter{log: log.With("component", "whatsmeow")})

	t := &whatsmeowTransport{
		client:    client,
		container: container,
		log:       log,
		events:    make(chan Event, 64),
	}
	client.AddEventHandler(t.handleEvent)
	return t, nil
}

// whatsmeowTransport adapts a whatsmeow client to the Transport interface.
type whatsmeowTransport struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	log       *slog.Logger

	events    chan Event
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (t *whatsmeowTransport) Open(ctx context.Context) error {
	if err := t.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (t *whatsmeowTransport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	code, err := t.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", fmt.Errorf("failed to request pairing code: %w", err)
	}
	return code, nil
}

func (t *whatsmeowTransport) SendText(ctx context.Context, to, text string) (string, error) {
	if !t.client.IsConnected() {
		return "", ErrNotConnected
	}

	recipient, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("invalid JID: %w", err)
	}

	resp, err := t.client.SendMessage(ctx, recipient, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return resp.ID, nil
}

func (t *whatsmeowTransport) Logout(ctx context.Context) error {
	if err := t.client.Logout(ctx); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

func (t *whatsmeowTransport) Close() {
	t.closeOnce.Do(func() {
		t.client.RemoveEventHandlers()
		t.client.Disconnect()
		if err := t.container.Close(); err != nil {
			t.log.Warn("failed to close credential store", "error", err)
		}
		// Mark closed under the emit lock so a handler mid-dispatch cannot
		// send on the closed channel.
		t.mu.Lock()
		t.closed = true
		close(t.events)
		t.mu.Unlock()
	})
}

func (t *whatsmeowTransport) Events() <-chan Event {
	return t.events
}

func (t *whatsmeowTransport) IsLoggedIn() bool {
	return t.client.Store.ID != nil
}

// handleEvent maps raw whatsmeow events onto the typed lifecycle stream.
func (t *whatsmeowTransport) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.QR:
		// WhatsApp sends several rotation codes per event; only the first
		// is currently scannable. A new QR event fires on rotation.
		if len(evt.Codes) > 0 {
			t.emit(Event{Type: EventQR, QRChallenge: evt.Codes[0]})
		}
	case *events.PairSuccess:
		t.log.Info("pairing successful", "jid", evt.ID)
	case *events.Connected:
		t.emit(Event{Type: EventOpened})
	case *events.LoggedOut:
		t.emit(Event{Type: EventClosed, Close: CloseInfo{
			Reason:    fmt.Sprintf("logged out (%s)", evt.Reason),
			LoggedOut: true,
		}})
	case *events.ConnectFailure:
		t.emit(Event{Type: EventClosed, Close: CloseInfo{
			Reason:    fmt.Sprintf("connect failure (%s)", evt.Reason),
			LoggedOut: evt.Reason.IsLoggedOut(),
		}})
	case *events.StreamReplaced:
		t.emit(Event{Type: EventClosed, Close: CloseInfo{Reason: "stream replaced"}})
	case *events.Disconnected:
		t.emit(Event{Type: EventClosed, Close: CloseInfo{Reason: "network"}})
	case *events.Message:
		t.emit(Event{Type: EventMessage, Message: &Message{
			SenderID: evt.Info.Sender.ToNonAD().String(),
			ChatID:   evt.Info.Chat.String(),
			Text:     extractMessageText(evt.Message),
			IsFromMe: evt.Info.IsFromMe,
		}})
	}
}

// emit delivers an event without blocking whatsmeow's dispatch goroutine.
func (t *whatsmeowTransport) emit(evt Event) {
	evt.Timestamp = time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- evt:
	default:
		t.log.Warn("event channel full, dropping event", "type", evt.Type)
	}
}

// extractMessageText pulls the plain-text content out of a WhatsApp message.
func extractMessageText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Conversation != nil {
		return *msg.Conversation
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}

// slogAdapter adapts slog.Logger to whatsmeow's log interface.
type slogAdapter struct {
	log *slog.Logger
}

func (s *slogAdapter) Debugf(msg string, args ...interface{}) {
	s.log.Debug(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Infof(msg string, args ...interface{}) {
	s.log.Info(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Warnf(msg string, args ...interface{}) {
	s.log.Warn(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Errorf(msg string, args ...interface{}) {
	s.log.Error(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{log: s.log.With("module", module)}
}

var _ waLog.Logger = (*slogAdapter)(nil)
var _ Dialer = (*WhatsmeowDialer)(nil)
var _ Transport = (*whatsmeowTransport)(nil)
