// Package telegram links Telegram chats to companion users. A linked chat is a
// presence connection: care messages pushed to the user arrive as chat messages.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/jialangli/emotion-companion/internal/delivery"
	"github.com/jialangli/emotion-companion/internal/domain"
	"github.com/jialangli/emotion-companion/internal/metrics"
	"github.com/jialangli/emotion-companion/internal/presence"
	"github.com/jialangli/emotion-companion/internal/store"
)

// Pending state keys used in conversational flows.
const (
	pendingMorning = "await_morning_time"
	pendingEvening = "await_evening_time"
	pendingCare    = "await_care_time"
	pendingTZ      = "await_tz_text"
)

const connPrefix = "tg:"

// Bot is the part of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Links persists chat to user bindings.
type Links interface {
	Get(ctx context.Context, userID string) (*domain.ScheduleConfig, error)
	LinkChat(ctx context.Context, chatID int64, userID string) error
	UnlinkChat(ctx context.Context, chatID int64) error
	GetLink(ctx context.Context, chatID int64) (*store.TelegramLink, error)
	ListLinks(ctx context.Context) ([]store.TelegramLink, error)
}

// Preferences applies preference changes and keeps jobs in sync.
type Preferences interface {
	UpdatePreferences(ctx context.Context, userID string, patch domain.SchedulePatch) (*domain.ScheduleConfig, error)
	Disable(ctx context.Context, userID string, cat domain.Category) (*domain.ScheduleConfig, error)
}

// Router wires Telegram updates to handlers and holds minimal in-memory state.
type Router struct {
	bot      Bot
	log      *zap.Logger
	links    Links
	prefs    Preferences
	presence *presence.Registry
	state    map[int64]string // chatID -> pending state
	mu       sync.RWMutex
}

var _ delivery.Resolver = (*Router)(nil)

// NewRouter creates a new Telegram router.
func NewRouter(bot Bot, log *zap.Logger, links Links, prefs Preferences, reg *presence.Registry) *Router {
	return &Router{
		bot:      bot,
		log:      log.With(zap.String("component", "telegram")),
		links:    links,
		prefs:    prefs,
		presence: reg,
		state:    make(map[int64]string),
	}
}

// ConnID is the presence identity of a linked chat.
func ConnID(chatID int64) presence.ConnID {
	return presence.ConnID(connPrefix + strconv.FormatInt(chatID, 10))
}

func parseConnID(id presence.ConnID) (int64, bool) {
	s, ok := strings.CutPrefix(string(id), connPrefix)
	if !ok {
		return 0, false
	}
	chatID, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return chatID, true
}

// RestoreLinks re-registers every stored chat link as present.
func (r *Router) RestoreLinks(ctx context.Context) (int, error) {
	links, err := r.links.ListLinks(ctx)
	if err != nil {
		return 0, err
	}
	for _, l := range links {
		r.presence.Register(l.UserID, ConnID(l.ChatID))
	}
	r.publishPresence()
	r.log.Info("telegram links restored", zap.Int("chats", len(links)))
	return len(links), nil
}

// Lookup resolves a linked chat to a push handle.
func (r *Router) Lookup(id presence.ConnID) (delivery.Conn, bool) {
	chatID, ok := parseConnID(id)
	if !ok {
		return nil, false
	}
	return chatConn{bot: r.bot, chatID: chatID}, true
}

// chatConn pushes events as plain chat messages.
type chatConn struct {
	bot    Bot
	chatID int64
}

func (c chatConn) Push(_ context.Context, ev delivery.Event) error {
	title, ok := categoryTitle[ev.Category]
	if !ok {
		title = ev.Category.String()
	}
	_, err := c.bot.Send(tgbotapi.NewMessage(c.chatID, title+"\n\n"+ev.Content))
	return err
}

// Run consumes updates until ctx is done or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			r.HandleUpdate(ctx, upd)
		}
	}
}

// setPending sets a pending state for a chat (non-persistent, in-memory).
func (r *Router) setPending(chatID int64, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[chatID] = s
}

// getPending returns current pending state for a chat.
func (r *Router) getPending(chatID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state[chatID]
}

// clearPending clears a pending state for a chat.
func (r *Router) clearPending(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, chatID)
}

// HandleUpdate routes a single update to appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Text messages
	if upd.Message != nil && upd.Message.Chat != nil {
		msg := upd.Message
		chatID := msg.Chat.ID
		cmd, arg := splitCommand(msg.Text)

		switch cmd {
		case "/start":
			r.handleStart(ctx, chatID, arg)
		case "/stop":
			r.handleStop(ctx, chatID)
		case "/status":
			r.handleStatus(ctx, chatID)
		case "/settings":
			r.handleSettings(ctx, chatID)
		case "/morning", "/evening", "/care":
			cat, _ := domain.ParseCategory(strings.TrimPrefix(cmd, "/"))
			r.handleSetTime(ctx, chatID, cat, arg)
		case "/tz":
			r.handleSetTZ(ctx, chatID, arg)
		case "/off":
			r.handleOff(ctx, chatID, arg)
		default:
			// Free-form text used in "Custom" flows (time/tz)
			r.handleFreeForm(ctx, chatID, strings.TrimSpace(msg.Text))
		}
		return
	}

	// Callback queries (inline buttons)
	if upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil {
		cb := upd.CallbackQuery
		data := cb.Data
		chatID := cb.Message.Chat.ID

		switch {
		case strings.HasPrefix(data, "set:"):
			r.askTimePresets(chatID, strings.TrimPrefix(data, "set:"), cb.ID)
		case strings.HasPrefix(data, "time:"):
			r.handleTimeCallback(ctx, chatID, data, cb.ID)
		case strings.HasPrefix(data, "off:"):
			_ = r.answerCallback(cb.ID, "")
			r.handleOff(ctx, chatID, strings.TrimPrefix(data, "off:"))

		case data == "set_tz":
			r.askTZPresets(chatID, cb.ID)
		case strings.HasPrefix(data, "tz:"):
			r.handleTZCallback(ctx, chatID, data, cb.ID)

		default:
			// Unknown callback — ignore silently
		}
	}
}

// splitCommand returns the command (without a @botname suffix) and its argument.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, arg, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (r *Router) publishPresence() {
	st := r.presence.Stats()
	metrics.SetPresence(st.OnlineUserCount, st.TotalConnectionCount)
}

func formatSlot(s domain.Slot) string {
	if !s.Enabled {
		return fmt.Sprintf("off (%s)", s.Time)
	}
	return s.Time.String()
}
