// Package telegram is the Telegram gateway: inbound messages become engine
// events, responses and urgent notifications go back to the chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
)

const sessionPrefix = "telegram:"

// Turner is the slice of the engine the bot needs.
type Turner interface {
	HandleEvent(ctx context.Context, ev engine.NormalizedEvent) (*engine.TurnResult, error)
}

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	eng     Turner
	cfg     config.TelegramConfig
	cancel  context.CancelFunc

	mu        sync.Mutex
	lastChats map[string]int64 // session id → chat id, for notification routing
}

func NewBot(cfg config.TelegramConfig, eng Turner) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Bot{
		bot:       bot,
		eng:       eng,
		cfg:       cfg,
		lastChats: make(map[string]int64),
	}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if !b.allowed(userID) {
		slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
		return
	}

	text := msg.Text
	if text == "" {
		if msg.Caption != "" {
			text = msg.Caption
		} else {
			return
		}
	}

	sessionID := sessionPrefix + strconv.FormatInt(chatID, 10)
	b.mu.Lock()
	b.lastChats[sessionID] = chatID
	b.mu.Unlock()

	// Thinking indicator while the turn runs.
	_ = b.sendChatAction(ctx, chatID, "typing")

	ev := engine.NewEvent(engine.SourceTelegram, engine.EventChatMessage, text).
		WithMeta("session_id", sessionID).
		WithMeta("sender", strconv.FormatInt(userID, 10))

	res, err := b.eng.HandleEvent(ctx, ev)
	if err != nil {
		slog.Error("telegram turn failed", "session", sessionID, "error", err)
		_ = b.SendMessage(ctx, chatID, "Sorry, I ran into an error processing your message.")
		return
	}

	if err := b.SendMessage(ctx, chatID, res.Response); err != nil {
		slog.Error("failed to send telegram response", "chat", chatID, "error", err)
	}
}

func (b *Bot) allowed(userID int64) bool {
	if len(b.cfg.AllowFrom) == 0 {
		return true
	}
	for _, id := range b.cfg.AllowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(toTelegramMarkdown(text), 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		if _, err := b.bot.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) error {
	return b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), action))
}

// Name implements notify.Dispatcher.
func (b *Bot) Name() string { return "telegram" }

// Dispatch implements notify.Dispatcher. Notifications bound to a telegram
// session go to that chat; anything else goes to the first allow-listed
// user as a direct message.
func (b *Bot) Dispatch(ctx context.Context, n notify.Notification) error {
	chatID, ok := b.chatFor(n.SessionID)
	if !ok {
		return fmt.Errorf("no telegram destination for notification %s", n.ID)
	}

	text := n.Body
	if n.Title != "" {
		text = "**" + n.Title + "**\n" + text
	}
	if n.Priority == notify.PriorityCritical || n.Priority == notify.PriorityHigh {
		text = "⚠️ " + text
	}
	return b.SendMessage(ctx, chatID, text)
}

func (b *Bot) chatFor(sessionID string) (int64, bool) {
	if strings.HasPrefix(sessionID, sessionPrefix) {
		if id, err := strconv.ParseInt(strings.TrimPrefix(sessionID, sessionPrefix), 10, 64); err == nil {
			return id, true
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.lastChats[sessionID]; ok {
		return id, true
	}
	if len(b.cfg.AllowFrom) > 0 {
		return b.cfg.AllowFrom[0], true
	}
	return 0, false
}
