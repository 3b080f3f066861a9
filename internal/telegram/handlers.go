package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/jialangli/emotion-companion/internal/domain"
	"github.com/jialangli/emotion-companion/internal/store"
)

// linkedUser returns the user bound to chatID, telling the chat when there is none.
func (r *Router) linkedUser(ctx context.Context, chatID int64) (string, bool) {
	l, err := r.links.GetLink(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		r.sendText(chatID, notLinkedText)
		return "", false
	}
	if err != nil {
		r.log.Error("get link failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, "Error reading your settings.")
		return "", false
	}
	return l.UserID, true
}

// --- Generic helpers ---

func (r *Router) sendText(chatID int64, text string) {
	_, _ = r.bot.Send(tgbotapi.NewMessage(chatID, text))
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}

// --- Core commands ---

func (r *Router) handleStart(ctx context.Context, chatID int64, userID string) {
	if userID == "" {
		userID = "tg-" + strconv.FormatInt(chatID, 10)
	}
	if err := r.links.LinkChat(ctx, chatID, userID); err != nil {
		r.log.Error("link chat failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, "Profile initialization error. Please try again later.")
		return
	}
	// An empty patch creates the default config for new users and re-syncs jobs.
	if _, err := r.prefs.UpdatePreferences(ctx, userID, domain.SchedulePatch{}); err != nil {
		r.log.Error("init preferences failed", zap.String("user_id", userID), zap.Error(err))
	}
	r.presence.Register(userID, ConnID(chatID))
	r.publishPresence()
	r.log.Info("chat linked", zap.Int64("chat_id", chatID), zap.String("user_id", userID))

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(startFmt, userID))
	msg.ReplyMarkup = mainMenuKeyboard()
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleStop(ctx context.Context, chatID int64) {
	if err := r.links.UnlinkChat(ctx, chatID); err != nil {
		r.log.Error("unlink chat failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, "Failed to unlink.")
		return
	}
	if userID, ok := r.presence.Unregister(ConnID(chatID)); ok {
		r.log.Info("chat unlinked", zap.Int64("chat_id", chatID), zap.String("user_id", userID))
	}
	r.publishPresence()
	r.clearPending(chatID)

	msg := tgbotapi.NewMessage(chatID, stopText)
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	userID, ok := r.linkedUser(ctx, chatID)
	if !ok {
		return
	}
	cfg, err := r.links.Get(ctx, userID)
	if err != nil {
		r.log.Error("get config failed", zap.String("user_id", userID), zap.Error(err))
		r.sendText(chatID, "Error reading your settings.")
		return
	}

	lastActive := "—"
	if cfg.LastActiveAt != nil {
		if s, err := domain.LocalizeTime(*cfg.LastActiveAt, cfg.Timezone); err == nil {
			lastActive = s
		}
	}

	body := fmt.Sprintf("%s\n\n"+statusFmt,
		statusTitle,
		cfg.UserID,
		formatSlot(cfg.Morning),
		formatSlot(cfg.Evening),
		formatSlot(cfg.Care),
		cfg.Timezone,
		lastActive,
	)

	msg := tgbotapi.NewMessage(chatID, body)
	msg.ReplyMarkup = mainMenuKeyboard()
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleSettings(ctx context.Context, chatID int64) {
	if _, ok := r.linkedUser(ctx, chatID); !ok {
		return
	}
	msg := tgbotapi.NewMessage(chatID, "What do you want to configure?")
	msg.ReplyMarkup = settingsInlineKeyboard()
	_, _ = r.bot.Send(msg)
}

// --- Time flow ---

func pendingFor(cat domain.Category) string {
	switch cat {
	case domain.Morning:
		return pendingMorning
	case domain.Evening:
		return pendingEvening
	default:
		return pendingCare
	}
}

func (r *Router) askTimePresets(chatID int64, raw, cbID string) {
	_ = r.answerCallback(cbID, "")
	cat, err := domain.ParseCategory(raw)
	if err != nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, "Choose a time for "+categoryTitle[cat]+" (or Custom):")
	msg.ReplyMarkup = timePresetsKeyboard(cat)
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleTimeCallback(ctx context.Context, chatID int64, data string, cbID string) {
	_ = r.answerCallback(cbID, "")
	rest := strings.TrimPrefix(data, "time:")
	rawCat, val, ok := strings.Cut(rest, ":")
	if !ok {
		return
	}
	cat, err := domain.ParseCategory(rawCat)
	if err != nil {
		return
	}
	if val == "custom" {
		r.sendText(chatID, timeHelp)
		r.setPending(chatID, pendingFor(cat))
		return
	}
	r.handleSetTime(ctx, chatID, cat, val)
}

// handleSetTime enables cat at the given time. Without a time it asks for one.
func (r *Router) handleSetTime(ctx context.Context, chatID int64, cat domain.Category, raw string) {
	userID, ok := r.linkedUser(ctx, chatID)
	if !ok {
		return
	}
	if raw == "" {
		r.sendText(chatID, timeHelp)
		r.setPending(chatID, pendingFor(cat))
		return
	}
	at, err := domain.ParseClock(raw)
	if err != nil {
		r.sendText(chatID, "Invalid time. "+timeHelp)
		return
	}

	var p domain.SchedulePatch
	p.SetEnabled(cat, true)
	p.SetTime(cat, at)
	if _, err := r.prefs.UpdatePreferences(ctx, userID, p); err != nil {
		r.log.Error("update time failed", zap.String("user_id", userID), zap.String("category", cat.String()), zap.Error(err))
		r.sendText(chatID, "Could not save time.")
		return
	}
	r.sendText(chatID, categoryTitle[cat]+" time updated: "+at.String())
}

// --- Timezone flow ---

func (r *Router) askTZPresets(chatID int64, cbID string) {
	_ = r.answerCallback(cbID, "")
	msg := tgbotapi.NewMessage(chatID, "Choose a timezone or enter your own (Region/City):")
	msg.ReplyMarkup = tzPresetsKeyboard()
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleTZCallback(ctx context.Context, chatID int64, data string, cbID string) {
	_ = r.answerCallback(cbID, "")
	if data == "tz:custom" {
		r.sendText(chatID, "Enter timezone (e.g., Asia/Shanghai):")
		r.setPending(chatID, pendingTZ)
		return
	}
	r.handleSetTZ(ctx, chatID, strings.TrimPrefix(data, "tz:"))
}

func (r *Router) handleSetTZ(ctx context.Context, chatID int64, raw string) {
	userID, ok := r.linkedUser(ctx, chatID)
	if !ok {
		return
	}
	if raw == "" {
		r.sendText(chatID, "Enter timezone (e.g., Asia/Shanghai):")
		r.setPending(chatID, pendingTZ)
		return
	}
	tz, err := domain.ValidateTZ(raw)
	if err != nil {
		r.sendText(chatID, "Invalid timezone. Example: Asia/Shanghai")
		return
	}
	if _, err := r.prefs.UpdatePreferences(ctx, userID, domain.SchedulePatch{Timezone: &tz}); err != nil {
		r.log.Error("update tz failed", zap.String("user_id", userID), zap.Error(err))
		r.sendText(chatID, "Could not save timezone.")
		return
	}
	r.sendText(chatID, "Timezone updated: "+tz)
}

// --- Off ---

func (r *Router) handleOff(ctx context.Context, chatID int64, raw string) {
	userID, ok := r.linkedUser(ctx, chatID)
	if !ok {
		return
	}
	var cat domain.Category
	label := "All notifications"
	if raw = strings.ToLower(strings.TrimSpace(raw)); raw != "all" {
		c, err := domain.ParseCategory(raw)
		if err != nil {
			r.sendText(chatID, offHelp)
			return
		}
		cat = c
		label = categoryTitle[c]
	}
	if _, err := r.prefs.Disable(ctx, userID, cat); err != nil {
		r.log.Error("disable failed", zap.String("user_id", userID), zap.Error(err))
		r.sendText(chatID, "Failed to turn off.")
		return
	}
	r.sendText(chatID, label+" turned off 🔕")
}

// --- Free-form dispatcher (for all "Custom" inputs) ---

func (r *Router) handleFreeForm(ctx context.Context, chatID int64, text string) {
	switch p := r.getPending(chatID); p {
	case pendingMorning, pendingEvening, pendingCare:
		r.clearPending(chatID)
		cat := map[string]domain.Category{
			pendingMorning: domain.Morning,
			pendingEvening: domain.Evening,
			pendingCare:    domain.Care,
		}[p]
		if text == "" {
			r.sendText(chatID, timeHelp)
			return
		}
		r.handleSetTime(ctx, chatID, cat, text)

	case pendingTZ:
		r.clearPending(chatID)
		if text == "" {
			return
		}
		r.handleSetTZ(ctx, chatID, text)

	default:
		// No pending flow: ignore free-form message
	}
}
