package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"lot_monitor/internal/config"
	"lot_monitor/internal/ingest"
	"lot_monitor/internal/model"
	"lot_monitor/internal/query"
	"lot_monitor/internal/storage"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup any
}

type mockAPI struct {
	mu   sync.Mutex
	sent []sentMsg
	err  error
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m.err != nil {
		return tgbotapi.Message{}, m.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) messages() []sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMsg(nil), m.sent...)
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// --- helpers ---

type testEnv struct {
	store *storage.SQLite
	coord *ingest.Coordinator
}

func newTestBot(t *testing.T, cfg *config.Config) (*Bot, *mockAPI, testEnv) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:", storage.WithClock(clock))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := ingest.New(store, nil, log, ingest.WithClock(clock))
	if cfg == nil {
		cfg = &config.Config{}
	}

	api := &mockAPI{}
	b := &Bot{
		api:   api,
		coord: coord,
		items: query.New(store),
		cfg:   cfg,
		log:   log,
	}
	return b, api, testEnv{store: store, coord: coord}
}

func testLot(ext, title string) model.Lot {
	return model.Lot{
		ID:           model.APILotID(ext),
		ExternalID:   ext,
		Title:        title,
		EstimateMin:  800,
		EstimateMax:  1200,
		Currency:     "EUR",
		AuctionHouse: "Tajan",
		AuctionDate:  testNow.Add(48 * time.Hour),
		URL:          "https://www.drouot.com/fr/l/" + ext,
	}
}

func seedLots(t *testing.T, e testEnv, lots ...model.Lot) {
	t.Helper()
	if _, err := e.coord.Ingest(context.Background(), lots, ingest.Options{SkipFilters: true}); err != nil {
		t.Fatalf("seed lots: %v", err)
	}
}

func stateOf(t *testing.T, e testEnv, id string) model.ItemState {
	t.Helper()
	us, err := e.store.GetUserState(context.Background(), id)
	if err != nil {
		t.Fatalf("get user state of %s: %v", id, err)
	}
	return us.State
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func callbackData(t *testing.T, markup any) []string {
	t.Helper()
	kb, ok := markup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("reply markup is %T, want InlineKeyboardMarkup", markup)
	}
	var data []string
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil {
				data = append(data, *btn.CallbackData)
			}
		}
	}
	return data
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, _ := newTestBot(t, nil)
	b.handleStart(100)
	requireContains(t, api.lastText(), "Bienvenue sur Lot Monitor")
}

func TestHandleHelp(t *testing.T) {
	b, api, _ := newTestBot(t, nil)
	b.handleHelp(100)
	for _, cmd := range []string{"/new", "/fav", "/include", "/price", "/clear"} {
		requireContains(t, api.lastText(), cmd)
	}
}

func TestHandleList(t *testing.T) {
	ctx := context.Background()

	t.Run("empty view", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		b.handleList(ctx, 100, query.ViewSeen)
		if diff := cmp.Diff("Lots vus : aucun lot.", api.lastText()); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("new lots", func(t *testing.T) {
		b, api, e := newTestBot(t, nil)
		seedLots(t, e, testLot("1", "Fauteuil cabriolet"), testLot("2", "Vase Gallé"))

		b.handleList(ctx, 100, query.ViewNew)
		got := api.lastText()
		requireContains(t, got, "Nouveaux lots (2)")
		requireContains(t, got, "Fauteuil cabriolet")
		requireContains(t, got, "Vase Gallé")
		requireContains(t, got, "drouot_api_2")
	})

	t.Run("favorites", func(t *testing.T) {
		b, api, e := newTestBot(t, nil)
		seedLots(t, e, testLot("1", "Fauteuil cabriolet"), testLot("2", "Vase Gallé"))
		if _, err := e.coord.UpdateState(ctx, "drouot_api_2", model.StateFavorite); err != nil {
			t.Fatal(err)
		}

		b.handleList(ctx, 100, query.ViewFavorite)
		got := api.lastText()
		requireContains(t, got, "Favoris (1)")
		if strings.Contains(got, "Fauteuil") {
			t.Errorf("favorites list contains a NEW lot:\n%s", got)
		}
	})
}

func TestHandleSetState(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		args      string
		state     model.ItemState
		wantReply string
		wantState model.ItemState
	}{
		{
			name:      "favorite",
			args:      "drouot_api_1",
			state:     model.StateFavorite,
			wantReply: "Lot drouot_api_1 : ajouté aux favoris.",
			wantState: model.StateFavorite,
		},
		{
			name:      "ignore",
			args:      "drouot_api_1",
			state:     model.StateIgnored,
			wantReply: "Lot drouot_api_1 : ignoré.",
			wantState: model.StateIgnored,
		},
		{
			name:      "read",
			args:      " drouot_api_1 extra",
			state:     model.StateSeen,
			wantReply: "Lot drouot_api_1 : marqué comme vu.",
			wantState: model.StateSeen,
		},
		{
			name:      "unknown lot",
			args:      "drouot_api_404",
			state:     model.StateSeen,
			wantReply: "Lot drouot_api_404 introuvable.",
			wantState: model.StateNew,
		},
		{
			name:      "missing id",
			args:      "",
			state:     model.StateSeen,
			wantReply: "identifiant du lot requis",
			wantState: model.StateNew,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, e := newTestBot(t, nil)
			seedLots(t, e, testLot("1", "Fauteuil cabriolet"))

			b.handleSetState(ctx, 100, tt.args, tt.state)
			if diff := cmp.Diff(tt.wantReply, api.lastText()); diff != "" {
				t.Errorf("reply mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantState, stateOf(t, e, "drouot_api_1")); diff != "" {
				t.Errorf("state mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleStats(t *testing.T) {
	ctx := context.Background()
	b, api, e := newTestBot(t, nil)
	seedLots(t, e, testLot("1", "Fauteuil cabriolet"), testLot("2", "Vase Gallé"))
	if _, err := e.coord.UpdateState(ctx, "drouot_api_1", model.StateFavorite); err != nil {
		t.Fatal(err)
	}

	b.handleStats(ctx, 100)
	got := api.lastText()
	for _, want := range []string{"Lots suivis : 2", "Nouveaux : 1", "Favoris : 1", "Ignorés : 0"} {
		requireContains(t, got, want)
	}
}

func TestHandleKeyword(t *testing.T) {
	ctx := context.Background()
	b, api, e := newTestBot(t, nil)
	seedLots(t, e, testLot("1", "Fauteuil cabriolet"), testLot("2", "Vase Gallé"))

	b.handleKeyword(ctx, 100, "fauteuil", true)
	requireContains(t, api.lastText(), `Mot-clé "fauteuil" ajouté.`)
	requireContains(t, api.lastText(), "1 mot(s)-clé(s)")

	b.handleKeyword(ctx, 100, "FAUTEUIL", true)
	requireContains(t, api.lastText(), "déjà présent")

	b.handleKeyword(ctx, 100, "  copie   d'après ", false)
	requireContains(t, api.lastText(), `Mot-clé "copie d'après" ajouté.`)

	b.handleKeyword(ctx, 100, "", true)
	requireContains(t, api.lastText(), "mot-clé requis")

	f, err := e.store.GetFilters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"fauteuil"}, f.IncludeKeywords); diff != "" {
		t.Errorf("include keywords mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"copie d'après"}, f.ExcludeKeywords); diff != "" {
		t.Errorf("exclude keywords mismatch (-want +got):\n%s", diff)
	}

	// The NEW view is narrowed to the lots matching the new keyword.
	api.reset()
	b.handleList(ctx, 100, query.ViewNew)
	got := api.lastText()
	requireContains(t, got, "Nouveaux lots (1)")
	if strings.Contains(got, "Vase") {
		t.Errorf("new view still lists a non-matching lot:\n%s", got)
	}
}

func TestHandlePrice(t *testing.T) {
	ctx := context.Background()

	t.Run("valid range", func(t *testing.T) {
		b, api, e := newTestBot(t, nil)
		b.handlePrice(ctx, 100, "100 5000")
		requireContains(t, api.lastText(), "Fourchette d'estimation : 100 - 5000 €.")

		f, err := e.store.GetFilters(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if f.PriceMin != 100 || f.PriceMax != 5000 {
			t.Errorf("stored price range = %g-%g, want 100-5000", f.PriceMin, f.PriceMax)
		}
	})

	t.Run("invalid range", func(t *testing.T) {
		b, api, e := newTestBot(t, nil)
		b.handlePrice(ctx, 100, "5000 100")
		requireContains(t, api.lastText(), "supérieur au minimum")

		f, err := e.store.GetFilters(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if f.PriceMin != model.DefaultPriceMin || f.PriceMax != model.DefaultPriceMax {
			t.Errorf("price range changed to %g-%g", f.PriceMin, f.PriceMax)
		}
	})
}

func TestHandleFilters(t *testing.T) {
	b, api, _ := newTestBot(t, nil)
	b.handleFilters(context.Background(), 100)
	requireContains(t, api.lastText(), "Filtres actifs : Aucun filtre actif")
	requireContains(t, api.lastText(), "Estimation : 0 - 999999 €")
}

func TestHandleClear(t *testing.T) {
	ctx := context.Background()
	b, api, e := newTestBot(t, nil)
	seedLots(t, e, testLot("1", "Fauteuil cabriolet"))

	b.handleClearConfirm(100)
	msgs := api.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if diff := cmp.Diff([]string{"clear:confirm", "noop:0"}, callbackData(t, msgs[0].Markup)); diff != "" {
		t.Errorf("confirmation buttons mismatch (-want +got):\n%s", diff)
	}

	b.handleClear(ctx, 100)
	requireContains(t, api.lastText(), "supprimés")
	ids, err := e.store.GetAllLotIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("lots left after clear: %v", ids)
	}
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	makeMsg := func(cmd, args string) *tgbotapi.Message {
		text := "/" + cmd
		if args != "" {
			text += " " + args
		}
		return &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 100},
			Text: text,
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
			},
		}
	}

	b, api, e := newTestBot(t, nil)
	seedLots(t, e, testLot("1", "Fauteuil cabriolet"))

	cmds := []struct {
		cmd      string
		args     string
		contains string
	}{
		{"start", "", "Bienvenue"},
		{"help", "", "/favorites"},
		{"new", "", "Nouveaux lots (1)"},
		{"seen", "", "Lots vus : aucun lot."},
		{"stats", "", "Lots suivis : 1"},
		{"read", "drouot_api_1", "marqué comme vu"},
		{"seen", "", "Lots vus (1)"},
		{"fav", "drouot_api_1", "ajouté aux favoris"},
		{"favorites", "", "Favoris (1)"},
		{"ignore", "drouot_api_1", "ignoré"},
		{"include", "commode", `Mot-clé "commode" ajouté.`},
		{"exclude", "copie", `Mot-clé "copie" ajouté.`},
		{"price", "10 20", "10 - 20 €"},
		{"filters", "", "Mots-clés recherchés : commode"},
		{"clear", "", "Supprimer tous les lots ?"},
		{"unknown_cmd", "", "Commande inconnue"},
	}

	for _, tc := range cmds {
		api.reset()
		b.handleCommand(ctx, makeMsg(tc.cmd, tc.args))
		requireContains(t, api.lastText(), tc.contains)
	}
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	makeCallback := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb",
			Data:    data,
			From:    &tgbotapi.User{ID: 7, UserName: "collector"},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
	}

	t.Run("invalid data format", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		b.handleCallback(ctx, makeCallback("nocolon"))
		if diff := cmp.Diff(0, len(api.messages())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})

	t.Run("state callbacks", func(t *testing.T) {
		cases := []struct {
			data string
			want model.ItemState
		}{
			{"fav:drouot_api_1", model.StateFavorite},
			{"ignore:drouot_api_1", model.StateIgnored},
			{"read:drouot_api_1", model.StateSeen},
		}
		for _, tc := range cases {
			b, _, e := newTestBot(t, nil)
			seedLots(t, e, testLot("1", "Fauteuil cabriolet"))
			b.handleCallback(ctx, makeCallback(tc.data))
			if diff := cmp.Diff(tc.want, stateOf(t, e, "drouot_api_1")); diff != "" {
				t.Errorf("%s: state mismatch (-want +got):\n%s", tc.data, diff)
			}
		}
	})

	t.Run("clear requires confirmation", func(t *testing.T) {
		b, api, e := newTestBot(t, nil)
		seedLots(t, e, testLot("1", "Fauteuil cabriolet"))

		b.handleCallback(ctx, makeCallback("noop:0"))
		b.handleCallback(ctx, makeCallback("clear:maybe"))
		if ids, _ := e.store.GetAllLotIDs(ctx); len(ids) != 1 {
			t.Errorf("lots cleared without confirmation: %v", ids)
		}

		b.handleCallback(ctx, makeCallback("clear:confirm"))
		requireContains(t, api.lastText(), "supprimés")
		if ids, _ := e.store.GetAllLotIDs(ctx); len(ids) != 0 {
			t.Errorf("lots left after confirmed clear: %v", ids)
		}
	})
}

func TestNotifyHighScore(t *testing.T) {
	ctx := context.Background()
	lot := testLot("1", "Fauteuil cabriolet")
	lot.MatchScore = 92

	t.Run("sends to every chat", func(t *testing.T) {
		b, api, _ := newTestBot(t, &config.Config{NotifyChatIDs: []int64{11, 22}})
		if err := b.NotifyHighScore(ctx, lot); err != nil {
			t.Fatalf("NotifyHighScore() error: %v", err)
		}

		msgs := api.messages()
		var chats []int64
		for _, m := range msgs {
			chats = append(chats, m.ChatID)
			requireContains(t, m.Text, "Nouveau lot intéressant !")
			requireContains(t, m.Text, "Score : 92/100")
			want := []string{"fav:drouot_api_1", "read:drouot_api_1", "ignore:drouot_api_1"}
			if diff := cmp.Diff(want, callbackData(t, m.Markup)); diff != "" {
				t.Errorf("buttons mismatch (-want +got):\n%s", diff)
			}
		}
		if diff := cmp.Diff([]int64{11, 22}, chats); diff != "" {
			t.Errorf("notified chats mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no chats configured", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		if err := b.NotifyHighScore(ctx, lot); err != nil {
			t.Fatalf("NotifyHighScore() error: %v", err)
		}
		if len(api.messages()) != 0 {
			t.Errorf("sent %d messages, want none", len(api.messages()))
		}
	})

	t.Run("send failure", func(t *testing.T) {
		b, api, _ := newTestBot(t, &config.Config{NotifyChatIDs: []int64{11}})
		api.err = errors.New("telegram down")
		if err := b.NotifyHighScore(ctx, lot); err == nil {
			t.Fatal("NotifyHighScore() succeeded, want error")
		}
	})
}
