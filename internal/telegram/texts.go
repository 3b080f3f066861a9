package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jialangli/emotion-companion/internal/domain"
)

// UI texts in English
const (
	startFmt = "👋 Hi! This chat is now linked to %q.\n\n" +
		"I will send you a morning greeting, an evening good-night and a care message every day.\n" +
		"Use /settings to change the times, /off to silence a category and /stop to unlink."
	stopText      = "Unlinked. I will not message this chat anymore. Send /start to link again."
	notLinkedText = "This chat is not linked yet. Send /start <your user id> first."
	statusTitle   = "🧾 Your current settings:"
	statusFmt     = "• User: %s\n• Morning: %s\n• Evening: %s\n• Care: %s\n• TZ: %s\n• Last active: %s\n"
	timeHelp      = "Enter time as HH:MM (e.g., 08:30)"
	offHelp       = "Usage: /off morning|evening|care|all"
)

var categoryTitle = map[domain.Category]string{
	domain.Morning: "☀️ Morning",
	domain.Evening: "🌙 Evening",
	domain.Care:    "💗 Care",
}

// mainMenuKeyboard builds the reply keyboard shown under every command answer.
func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/status"),
			tgbotapi.NewKeyboardButton("/settings"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/off all"),
			tgbotapi.NewKeyboardButton("/stop"),
		),
	)
}

// Inline keyboards
func settingsInlineKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(categoryTitle[domain.Morning], "set:morning"),
			tgbotapi.NewInlineKeyboardButtonData(categoryTitle[domain.Evening], "set:evening"),
			tgbotapi.NewInlineKeyboardButtonData(categoryTitle[domain.Care], "set:care"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🌍 Timezone", "set_tz"),
		),
	)
}

// timePresets are offered per category before falling back to free input.
var timePresets = map[domain.Category][]string{
	domain.Morning: {"07:00", "07:30", "08:00", "08:30", "09:00"},
	domain.Evening: {"21:00", "21:30", "22:00", "22:30", "23:00"},
	domain.Care:    {"12:00", "15:00", "18:00", "20:00"},
}

func timePresetsKeyboard(cat domain.Category) tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	for _, t := range timePresets[cat] {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(t, "time:"+cat.String()+":"+t))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		row,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", "time:"+cat.String()+":custom"),
			tgbotapi.NewInlineKeyboardButtonData("🔕 Off", "off:"+cat.String()),
		),
	)
}

func tzPresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Asia/Shanghai", "tz:Asia/Shanghai"),
			tgbotapi.NewInlineKeyboardButtonData("Asia/Tokyo", "tz:Asia/Tokyo"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Europe/Moscow", "tz:Europe/Moscow"),
			tgbotapi.NewInlineKeyboardButtonData("UTC", "tz:UTC"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", "tz:custom"),
		),
	)
}
