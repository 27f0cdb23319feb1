package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"lot_monitor/internal/model"
)

const (
	actionFav    = "fav"
	actionIgnore = "ignore"
	actionRead   = "read"
	actionClear  = "clear"
)

func lotKeyboard(lotID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Favori", actionFav+":"+lotID),
			tgbotapi.NewInlineKeyboardButtonData("Vu", actionRead+":"+lotID),
			tgbotapi.NewInlineKeyboardButtonData("Ignorer", actionIgnore+":"+lotID),
		),
	)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, arg, ok := strings.Cut(data, ":")
	if !ok || arg == "" {
		return
	}

	attrs := []any{"action", action, "arg", arg, "chat_id", chatID}
	if cb.From != nil {
		attrs = append(attrs, "user_id", cb.From.ID, "username", cb.From.UserName)
	}
	b.log.Info("callback", attrs...)

	switch action {
	case actionFav:
		b.handleSetState(ctx, chatID, arg, model.StateFavorite)
	case actionIgnore:
		b.handleSetState(ctx, chatID, arg, model.StateIgnored)
	case actionRead:
		b.handleSetState(ctx, chatID, arg, model.StateSeen)
	case actionClear:
		if arg == "confirm" {
			b.handleClear(ctx, chatID)
		}
	}
}
