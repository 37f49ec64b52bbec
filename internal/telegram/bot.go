package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dansdan/dansbot/internal/status"
)

const welcomeText = `👋 Welcome to DansBot Control Panel!

📋 Available Commands:
• /status — Check WhatsApp connection
• /link <phone> — Pair WhatsApp (e.g. /link 254712345678)
• /restart — Restart WhatsApp session
• /stop — Stop WhatsApp session
• /help — Show this help message again`

var phonePattern = regexp.MustCompile(`^\d+$`)

// SessionController is the slice of the supervisor the bot drives. The
// reference is injected once at construction.
type SessionController interface {
	StartSession(ctx context.Context, sessionID, phone string) error
	StopSession(ctx context.Context, sessionID string)
	Status(sessionID string) status.Snapshot
}

// Bot long-polls the Telegram API and maps operator commands onto the
// session controller.
type Bot struct {
	client    *Client
	ctrl      SessionController
	sessionID string
	log       *slog.Logger
}

func NewBot(client *Client, ctrl SessionController, sessionID string, log *slog.Logger) *Bot {
	return &Bot{client: client, ctrl: ctrl, sessionID: sessionID, log: log}
}

// Run polls for updates until ctx is cancelled. A command handler failure
// is replied to the operator, never fatal.
func (b *Bot) Run(ctx context.Context) {
	b.log.Info("telegram bot polling for updates", "bot", b.client.api.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 50
	updates := b.client.api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		b.client.api.StopReceivingUpdates()
	}()

	for upd := range updates {
		if upd.Message == nil || upd.Message.Text == "" {
			continue
		}
		b.handleMessage(ctx, upd.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		b.reply(ctx, msg.Chat.ID, "⚙️ Use /start to see the available commands.")
		return
	}

	// Command() strips the leading slash and any @BotName mention.
	switch msg.Command() {
	case "start", "help":
		b.reply(ctx, msg.Chat.ID, welcomeText)
	case "status":
		b.handleStatus(ctx, msg.Chat.ID)
	case "link":
		b.handleLink(ctx, msg.Chat.ID, strings.Fields(msg.CommandArguments()))
	case "restart":
		b.handleRestart(ctx, msg.Chat.ID)
	case "stop":
		b.handleStop(ctx, msg.Chat.ID)
	default:
		b.reply(ctx, msg.Chat.ID, "⚙️ Use /start to see the available commands.")
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	snap := b.ctrl.Status(b.sessionID)
	text := fmt.Sprintf("📊 WhatsApp Status\n• Connection: %s %s\n• Last Update: %s",
		snap.Emoji, snap.Connection, snap.LastUpdate.Format("2006-01-02 15:04:05 MST"))
	if snap.LastError != "" {
		text += "\n• Last Error: " + snap.LastError
	}
	b.reply(ctx, chatID, text)
}

func (b *Bot) handleLink(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 || !phonePattern.MatchString(args[0]) {
		b.reply(ctx, chatID, "❌ Invalid phone number. Use digits only.")
		return
	}
	phone := args[0]
	b.reply(ctx, chatID, fmt.Sprintf("🔗 Requesting pairing code for %s...", phone))
	if err := b.ctrl.StartSession(ctx, b.sessionID, phone); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("❌ Error linking: %v", err))
		return
	}
	b.reply(ctx, chatID, "✅ Pairing request sent — QR or code will appear here soon.")
}

func (b *Bot) handleRestart(ctx context.Context, chatID int64) {
	b.reply(ctx, chatID, "♻️ Restarting WhatsApp session...")
	if err := b.ctrl.StartSession(ctx, b.sessionID, ""); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("❌ Restart failed: %v", err))
		return
	}
	b.reply(ctx, chatID, "✅ Restart complete!")
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	b.reply(ctx, chatID, "🛑 Stopping WhatsApp session...")
	b.ctrl.StopSession(ctx, b.sessionID)
	b.reply(ctx, chatID, "✅ WhatsApp session stopped.")
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.client.Reply(ctx, chatID, text); err != nil {
		b.log.Warn("telegram reply failed", "chat", chatID, "error", err)
	}
}
