package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"lot_monitor/internal/config"
	"lot_monitor/internal/model"
	"lot_monitor/internal/query"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Coordinator is the part of the ingestion coordinator the bot mutates
// state through.
type Coordinator interface {
	UpdateState(ctx context.Context, lotID string, state model.ItemState) (*model.UserState, error)
	UpdateFilters(ctx context.Context, f model.FilterSet) error
	Filters(ctx context.Context) (model.FilterSet, error)
	Metadata(ctx context.Context) (model.Metadata, error)
	ClearData(ctx context.Context) error
}

// ItemLister reads the item views.
type ItemLister interface {
	Items(ctx context.Context, view query.View) ([]model.Item, error)
}

// listLimit is the number of lots shown by the list commands.
const listLimit = 10

// Bot is the Telegram bot that handles user commands and sends
// high-score notifications.
type Bot struct {
	api   telegramAPI
	coord Coordinator
	items ItemLister
	cfg   *config.Config
	log   *slog.Logger
}

// New creates a Bot with the given Telegram token.
func New(token string, coord Coordinator, items ItemLister, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		coord: coord,
		items: items,
		cfg:   cfg,
		log:   log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if update.CallbackQuery.From != nil && !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Accès refusé.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// NotifyHighScore sends a lot that scored above the user threshold to every
// notification chat.
func (b *Bot) NotifyHighScore(_ context.Context, lot model.Lot) error {
	var errs []error
	for _, chatID := range b.cfg.NotifyChatIDs {
		msg := tgbotapi.NewMessage(chatID, FormatNotification(lot))
		msg.DisableWebPagePreview = true
		msg.ReplyMarkup = lotKeyboard(lot.ID)
		if _, err := b.api.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("notify chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "new":
		b.handleList(ctx, chatID, query.ViewNew)
	case "seen":
		b.handleList(ctx, chatID, query.ViewSeen)
	case "favorites":
		b.handleList(ctx, chatID, query.ViewFavorite)
	case "stats":
		b.handleStats(ctx, chatID)
	case actionFav:
		b.handleSetState(ctx, chatID, args, model.StateFavorite)
	case actionIgnore:
		b.handleSetState(ctx, chatID, args, model.StateIgnored)
	case actionRead:
		b.handleSetState(ctx, chatID, args, model.StateSeen)
	case "include":
		b.handleKeyword(ctx, chatID, args, true)
	case "exclude":
		b.handleKeyword(ctx, chatID, args, false)
	case "price":
		b.handlePrice(ctx, chatID, args)
	case "filters":
		b.handleFilters(ctx, chatID)
	case actionClear:
		b.handleClearConfirm(chatID)
	default:
		b.reply(chatID, "Commande inconnue. Utilisez /help pour la liste des commandes.")
	}
}
