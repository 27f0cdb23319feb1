package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"lot_monitor/internal/filter"
	"lot_monitor/internal/model"
	"lot_monitor/internal/query"
	"lot_monitor/internal/storage"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Bienvenue sur Lot Monitor !

Suivez les lots de ventes aux enchères qui correspondent à vos critères.

Pour commencer :
1. /include <mot> : ajouter un mot-clé recherché
2. /price <min> <max> : limiter l'estimation
3. /new : voir les nouveaux lots

Utilisez /help pour la liste complète des commandes.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Lots :
/new : nouveaux lots
/seen : lots vus
/favorites : lots favoris
/stats : compteurs
/fav <id> : ajouter aux favoris
/ignore <id> : ignorer un lot
/read <id> : marquer comme vu

Filtres :
/filters : filtres actifs
/include <mot> : mot-clé recherché
/exclude <mot> : mot-clé exclu
/price <min> <max> : fourchette d'estimation en €

/clear : supprimer tous les lots (filtres conservés)`)
}

func (b *Bot) handleList(ctx context.Context, chatID int64, view query.View) {
	items, err := b.items.Items(ctx, view)
	if err != nil {
		b.log.Error("list items", "view", view, "error", err)
		b.reply(chatID, "Impossible de lire les lots.")
		return
	}
	b.reply(chatID, FormatItemList(viewTitle(view), items, listLimit))
}

func viewTitle(view query.View) string {
	switch view {
	case query.ViewSeen:
		return "Lots vus"
	case query.ViewFavorite:
		return "Favoris"
	default:
		return "Nouveaux lots"
	}
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	meta, err := b.coord.Metadata(ctx)
	if err != nil {
		b.log.Error("read metadata", "error", err)
		b.reply(chatID, "Impossible de lire les statistiques.")
		return
	}
	b.reply(chatID, FormatStats(meta))
}

func (b *Bot) handleSetState(ctx context.Context, chatID int64, args string, state model.ItemState) {
	id, err := ParseLotIDArg(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	if _, err := b.coord.UpdateState(ctx, id, state); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("Lot %s introuvable.", id))
			return
		}
		b.log.Error("update state", "lot_id", id, "state", state, "error", err)
		b.reply(chatID, fmt.Sprintf("Échec de la mise à jour : %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Lot %s : %s.", id, stateLabel(state)))
}

func (b *Bot) handleKeyword(ctx context.Context, chatID int64, args string, include bool) {
	kw, err := ParseKeywordArg(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	f, err := b.coord.Filters(ctx)
	if err != nil {
		b.log.Error("load filters", "error", err)
		b.reply(chatID, "Impossible de lire les filtres.")
		return
	}

	var added bool
	if include {
		f.IncludeKeywords, added = addKeyword(f.IncludeKeywords, kw)
	} else {
		f.ExcludeKeywords, added = addKeyword(f.ExcludeKeywords, kw)
	}
	if !added {
		b.reply(chatID, fmt.Sprintf("Le mot-clé %q est déjà présent.", kw))
		return
	}

	b.saveFilters(ctx, chatID, f, fmt.Sprintf("Mot-clé %q ajouté.", kw))
}

func (b *Bot) handlePrice(ctx context.Context, chatID int64, args string) {
	lo, hi, err := ParsePriceArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	f, err := b.coord.Filters(ctx)
	if err != nil {
		b.log.Error("load filters", "error", err)
		b.reply(chatID, "Impossible de lire les filtres.")
		return
	}
	f.PriceMin, f.PriceMax = lo, hi

	b.saveFilters(ctx, chatID, f, fmt.Sprintf("Fourchette d'estimation : %s.", formatRange(lo, hi, "EUR")))
}

func (b *Bot) saveFilters(ctx context.Context, chatID int64, f model.FilterSet, done string) {
	if err := b.coord.UpdateFilters(ctx, f); err != nil {
		b.log.Error("update filters", "error", err)
		b.reply(chatID, fmt.Sprintf("Échec de l'enregistrement des filtres : %v", err))
		return
	}
	b.reply(chatID, done+"\n"+filter.Summary(f))
}

func (b *Bot) handleFilters(ctx context.Context, chatID int64) {
	f, err := b.coord.Filters(ctx)
	if err != nil {
		b.log.Error("load filters", "error", err)
		b.reply(chatID, "Impossible de lire les filtres.")
		return
	}
	b.reply(chatID, FormatFilters(f))
}

func (b *Bot) handleClearConfirm(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Supprimer tous les lots ? Les filtres et préférences sont conservés.")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Oui, supprimer", actionClear+":confirm"),
			tgbotapi.NewInlineKeyboardButtonData("Annuler", "noop:0"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send clear confirmation", "error", err)
	}
}

func (b *Bot) handleClear(ctx context.Context, chatID int64) {
	if err := b.coord.ClearData(ctx); err != nil {
		b.log.Error("clear data", "error", err)
		b.reply(chatID, fmt.Sprintf("Échec de la suppression : %v", err))
		return
	}
	b.reply(chatID, "Tous les lots ont été supprimés.")
}
