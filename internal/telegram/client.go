// Package telegram provides the operator surface over the Telegram Bot API:
// an alert sink for notifications and a long-polling command bot.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client wraps the Bot API for alert delivery. SendText/SendPhoto satisfy
// the notification sink contract: errors are logged and swallowed, nothing
// is retried, and callers are never blocked beyond the request itself. The
// Bot API library carries no context plumbing, so the ctx parameters exist
// only to fit the sink interface.
type Client struct {
	api         *tgbotapi.BotAPI
	adminChatID int64
	log         *slog.Logger
}

// NewClient authenticates against the Bot API. adminChatID may be empty,
// which disables alert delivery but keeps command replies working.
func NewClient(token, adminChatID string, log *slog.Logger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return newClient(api, adminChatID, log)
}

func newClient(api *tgbotapi.BotAPI, adminChatID string, log *slog.Logger) (*Client, error) {
	var chatID int64
	if adminChatID != "" {
		id, err := strconv.ParseInt(adminChatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram chat id %q: %w", adminChatID, err)
		}
		chatID = id
	}
	return &Client{api: api, adminChatID: chatID, log: log}, nil
}

// SendText delivers a text alert to the admin chat. Best effort.
func (c *Client) SendText(ctx context.Context, text string) {
	if c.adminChatID == 0 {
		return
	}
	if _, err := c.api.Send(tgbotapi.NewMessage(c.adminChatID, text)); err != nil {
		c.log.Warn("telegram alert failed", "error", err)
	}
}

// SendPhoto delivers a photo (PNG bytes) with a caption to the admin chat.
// Best effort.
func (c *Client) SendPhoto(ctx context.Context, png []byte, caption string) {
	if c.adminChatID == 0 {
		return
	}
	photo := tgbotapi.NewPhoto(c.adminChatID, tgbotapi.FileBytes{Name: "qr.png", Bytes: png})
	photo.Caption = caption
	if _, err := c.api.Send(photo); err != nil {
		c.log.Warn("telegram photo failed", "error", err)
	}
}

// Reply sends text to a specific chat, propagating the error to the caller.
func (c *Client) Reply(ctx context.Context, chatID int64, text string) error {
	_, err := c.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
