package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"lot_monitor/internal/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDB(t *testing.T) (*SQLite, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	s, err := NewSQLite(":memory:", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func testLot(id string, now time.Time) model.Lot {
	return model.Lot{
		ID:           id,
		ExternalID:   "ext-" + id,
		Title:        "Paire de fauteuils " + id,
		Description:  "Bois doré",
		Category:     "Mobilier",
		EstimateMin:  800,
		EstimateMax:  1200,
		Currency:     "EUR",
		AuctionDate:  now.Add(48 * time.Hour),
		AuctionHouse: "Tajan",
		URL:          "https://www.drouot.com/fr/l/" + id,
		SaleType:     "LIVE",
		FirstSeenAt:  now,
		LastSeenAt:   now,
	}
}

func TestLotCRUD(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)
	now := clock.Now()
	scraped := now.Add(-time.Minute)

	tests := []struct {
		name string
		lot  model.Lot
	}{
		{
			name: "minimal lot",
			lot:  testLot("a", now),
		},
		{
			name: "lot with nullable fields set",
			lot: func() model.Lot {
				l := testLot("b", now)
				l.City = strPtr("Paris")
				l.ListOrder = intPtr(7)
				l.DetailScrapedAt = &scraped
				l.ImageURL = "https://cdn.drouot.com/d/image/lot?path=x.jpg"
				l.MatchScore = 42
				l.MatchReason = []string{"Catégorie: Mobilier", "Prix: 1000€"}
				return l
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lot := tt.lot
			if err := s.SaveLot(ctx, &lot); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := s.GetLot(ctx, lot.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(tt.lot, *got); diff != "" {
				t.Errorf("GetLot mismatch (-want +got):\n%s", diff)
			}
		})
	}

	ids, err := s.GetAllLotIDs(ctx)
	if err != nil {
		t.Fatalf("all ids: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Errorf("GetAllLotIDs mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.GetLot(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLotRequiresID(t *testing.T) {
	s, _ := newTestDB(t)
	err := s.SaveLot(context.Background(), &model.Lot{Title: "no id"})
	if !errors.Is(err, model.ErrMissingIdentity) {
		t.Errorf("expected ErrMissingIdentity, got %v", err)
	}
}

func TestGetLotsSkipsMissing(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)

	if err := s.SaveLots(ctx, []model.Lot{testLot("x", clock.Now()), testLot("y", clock.Now())}); err != nil {
		t.Fatalf("save lots: %v", err)
	}

	got, err := s.GetLots(ctx, []string{"y", "ghost", "x"})
	if err != nil {
		t.Fatalf("get lots: %v", err)
	}
	var ids []string
	for _, l := range got {
		ids = append(ids, l.ID)
	}
	if diff := cmp.Diff([]string{"y", "x"}, ids); diff != "" {
		t.Errorf("GetLots mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateLot(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)

	lot := testLot("u", clock.Now())
	if err := s.SaveLot(ctx, &lot); err != nil {
		t.Fatalf("save: %v", err)
	}

	later := clock.Now().Add(time.Hour)
	if err := s.UpdateLot(ctx, "u", func(l *model.Lot) { l.LastSeenAt = later }); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetLot(ctx, "u")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := lot
	want.LastSeenAt = later
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("UpdateLot mismatch (-want +got):\n%s", diff)
	}

	called := false
	if err := s.UpdateLot(ctx, "absent", func(*model.Lot) { called = true }); err != nil {
		t.Fatalf("update absent: %v", err)
	}
	if called {
		t.Error("update func called for absent lot")
	}
	if _, err := s.GetLot(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("absent lot was created: %v", err)
	}
}

func TestSetUserState(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)

	lot := testLot("s1", clock.Now())
	if err := s.SaveLot(ctx, &lot); err != nil {
		t.Fatalf("save: %v", err)
	}

	created := clock.Now()
	if _, err := s.SetUserState(ctx, "s1", model.StateNew); err != nil {
		t.Fatalf("set new: %v", err)
	}

	clock.Advance(time.Minute)
	firstView := clock.Now()
	if _, err := s.SetUserState(ctx, "s1", model.StateSeen); err != nil {
		t.Fatalf("set seen: %v", err)
	}

	clock.Advance(time.Minute)
	secondView := clock.Now()
	us, err := s.SetUserState(ctx, "s1", model.StateSeen)
	if err != nil {
		t.Fatalf("set seen again: %v", err)
	}

	want := &model.UserState{
		LotID:           "s1",
		State:           model.StateSeen,
		CreatedAt:       created,
		LastStateChange: secondView,
		ViewCount:       2,
		ViewedAt:        &secondView,
	}
	if diff := cmp.Diff(want, us); diff != "" {
		t.Errorf("SetUserState mismatch (-want +got):\n%s", diff)
	}
	if us.ViewedAt.Equal(firstView) {
		t.Error("viewedAt was not refreshed on second view")
	}

	stored, err := s.GetUserState(ctx, "s1")
	if err != nil {
		t.Fatalf("get user state: %v", err)
	}
	if diff := cmp.Diff(want, stored); diff != "" {
		t.Errorf("GetUserState mismatch (-want +got):\n%s", diff)
	}

	assertIndexes(t, s, map[model.ItemState][]string{model.StateSeen: {"s1"}})

	clock.Advance(time.Minute)
	fav := clock.Now()
	us, err = s.SetUserState(ctx, "s1", model.StateFavorite)
	if err != nil {
		t.Fatalf("set favorite: %v", err)
	}
	if diff := cmp.Diff(2, us.ViewCount); diff != "" {
		t.Errorf("view count mismatch (-want +got):\n%s", diff)
	}
	if us.FavoritedAt == nil || !us.FavoritedAt.Equal(fav) {
		t.Errorf("favoritedAt = %v, want %v", us.FavoritedAt, fav)
	}
	assertIndexes(t, s, map[model.ItemState][]string{model.StateFavorite: {"s1"}})

	if _, err := s.SetUserState(ctx, "s1", model.ItemState("ARCHIVED")); err == nil {
		t.Error("expected error for invalid state")
	}
}

func TestCreateUserState(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)

	for _, id := range []string{"c1", "c2"} {
		lot := testLot(id, clock.Now())
		if err := s.SaveLot(ctx, &lot); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if _, err := s.SetUserState(ctx, "c2", model.StateFavorite); err != nil {
		t.Fatalf("set favorite: %v", err)
	}

	tests := []struct {
		id          string
		wantCreated bool
		wantState   model.ItemState
	}{
		{id: "c1", wantCreated: true, wantState: model.StateNew},
		{id: "c1", wantCreated: false, wantState: model.StateNew},
		{id: "c2", wantCreated: false, wantState: model.StateFavorite},
	}
	for _, tt := range tests {
		created, err := s.CreateUserState(ctx, tt.id)
		if err != nil {
			t.Fatalf("CreateUserState(%s) error: %v", tt.id, err)
		}
		if created != tt.wantCreated {
			t.Errorf("CreateUserState(%s) = %v, want %v", tt.id, created, tt.wantCreated)
		}
		us, err := s.GetUserState(ctx, tt.id)
		if err != nil {
			t.Fatalf("get user state %s: %v", tt.id, err)
		}
		if us.State != tt.wantState {
			t.Errorf("state of %s = %q, want %q", tt.id, us.State, tt.wantState)
		}
	}

	assertIndexes(t, s, map[model.ItemState][]string{
		model.StateNew:      {"c1"},
		model.StateFavorite: {"c2"},
	})
}

func TestUpdateUserNotes(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)

	if err := s.UpdateUserNotes(ctx, "none", "ignored", nil); err != nil {
		t.Fatalf("notes on missing state: %v", err)
	}
	if _, err := s.GetUserState(ctx, "none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("state created for missing lot: %v", err)
	}

	if _, err := s.SetUserState(ctx, "n1", model.StateNew); err != nil {
		t.Fatalf("set state: %v", err)
	}
	clock.Advance(time.Hour)
	if err := s.UpdateUserNotes(ctx, "n1", "call the expert", []string{"salon"}); err != nil {
		t.Fatalf("update notes: %v", err)
	}
	if _, err := s.SetUserState(ctx, "n1", model.StateFavorite); err != nil {
		t.Fatalf("set favorite: %v", err)
	}

	us, err := s.GetUserState(ctx, "n1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]string{"salon"}, us.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("call the expert", us.Notes); diff != "" {
		t.Errorf("notes mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteLotCascades(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)

	for _, id := range []string{"d1", "d2"} {
		lot := testLot(id, clock.Now())
		if err := s.SaveLot(ctx, &lot); err != nil {
			t.Fatalf("save: %v", err)
		}
		if _, err := s.SetUserState(ctx, id, model.StateNew); err != nil {
			t.Fatalf("set state: %v", err)
		}
	}

	if err := s.DeleteLot(ctx, "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetLot(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("lot still present: %v", err)
	}
	if _, err := s.GetUserState(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("user state still present: %v", err)
	}
	assertIndexes(t, s, map[model.ItemState][]string{model.StateNew: {"d2"}})
}

func TestGetItems(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)

	for _, id := range []string{"i1", "i2", "i3"} {
		lot := testLot(id, clock.Now())
		if err := s.SaveLot(ctx, &lot); err != nil {
			t.Fatalf("save: %v", err)
		}
		if _, err := s.SetUserState(ctx, id, model.StateNew); err != nil {
			t.Fatalf("set state: %v", err)
		}
	}
	if _, err := s.SetUserState(ctx, "i2", model.StateFavorite); err != nil {
		t.Fatalf("favorite: %v", err)
	}
	// An index entry without a lot must be skipped on read.
	if err := s.UpdateIndexes(ctx, "orphan", model.StateNew); err != nil {
		t.Fatalf("update indexes: %v", err)
	}

	items, err := s.GetItems(ctx, model.StateNew)
	if err != nil {
		t.Fatalf("get items: %v", err)
	}
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
		if it.State == nil || it.State.State != model.StateNew {
			t.Errorf("item %s has state %+v", it.ID, it.State)
		}
	}
	if diff := cmp.Diff([]string{"i1", "i3"}, ids); diff != "" {
		t.Errorf("new items mismatch (-want +got):\n%s", diff)
	}

	favs, err := s.GetItems(ctx, model.StateFavorite)
	if err != nil {
		t.Fatalf("get favorites: %v", err)
	}
	if len(favs) != 1 || favs[0].ID != "i2" {
		t.Errorf("favorites = %+v, want [i2]", favs)
	}
}

func TestSettingsDefaultsAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)

	f, err := s.GetFilters(ctx)
	if err != nil {
		t.Fatalf("get filters: %v", err)
	}
	if diff := cmp.Diff(model.DefaultFilterSet(clock.Now()), f); diff != "" {
		t.Errorf("default filters mismatch (-want +got):\n%s", diff)
	}

	f.IncludeKeywords = []string{"louis xvi"}
	f.Cities = []string{"Paris"}
	f.PriceMax = 5000
	if err := s.SaveFilters(ctx, f); err != nil {
		t.Fatalf("save filters: %v", err)
	}
	got, err := s.GetFilters(ctx)
	if err != nil {
		t.Fatalf("get filters: %v", err)
	}
	if diff := cmp.Diff(f, got); diff != "" {
		t.Errorf("filters mismatch (-want +got):\n%s", diff)
	}

	p, err := s.GetPreferences(ctx)
	if err != nil {
		t.Fatalf("get preferences: %v", err)
	}
	if diff := cmp.Diff(90, p.AutoCleanupDays); diff != "" {
		t.Errorf("default cleanup days mismatch (-want +got):\n%s", diff)
	}
	p.HighScoreThreshold = 65
	if err := s.SavePreferences(ctx, p); err != nil {
		t.Fatalf("save preferences: %v", err)
	}
	gotP, err := s.GetPreferences(ctx)
	if err != nil {
		t.Fatalf("get preferences: %v", err)
	}
	if diff := cmp.Diff(p, gotP); diff != "" {
		t.Errorf("preferences mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateCounts(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)

	states := map[string]model.ItemState{
		"c1": model.StateNew,
		"c2": model.StateNew,
		"c3": model.StateSeen,
		"c4": model.StateFavorite,
		"c5": model.StateIgnored,
	}
	for id, st := range states {
		lot := testLot(id, clock.Now())
		if err := s.SaveLot(ctx, &lot); err != nil {
			t.Fatalf("save: %v", err)
		}
		if _, err := s.SetUserState(ctx, id, st); err != nil {
			t.Fatalf("set state: %v", err)
		}
	}
	unindexed := testLot("c6", clock.Now())
	if err := s.SaveLot(ctx, &unindexed); err != nil {
		t.Fatalf("save: %v", err)
	}

	m, err := s.UpdateCounts(ctx)
	if err != nil {
		t.Fatalf("update counts: %v", err)
	}
	want := model.Metadata{
		TotalLots:     6,
		NewCount:      2,
		SeenCount:     1,
		FavoriteCount: 1,
		IgnoredCount:  1,
		LastSync:      clock.Now(),
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("UpdateCounts mismatch (-want +got):\n%s", diff)
	}

	stored, err := s.GetMetadata(ctx)
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if diff := cmp.Diff(want, stored); diff != "" {
		t.Errorf("GetMetadata mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanupOldItems(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)
	start := clock.Now()

	type setup struct {
		id          string
		auctionDays int
		state       model.ItemState
		wantKept    bool
	}
	cases := []setup{
		{id: "old-seen", auctionDays: -100, state: model.StateSeen, wantKept: false},
		{id: "old-favorite", auctionDays: -100, state: model.StateFavorite, wantKept: true},
		{id: "future-ignored", auctionDays: 5, state: model.StateIgnored, wantKept: true},
		{id: "old-stateless", auctionDays: -100, wantKept: false},
		{id: "old-recently-touched", auctionDays: -100, state: model.StateNew, wantKept: true},
	}

	for _, c := range cases {
		lot := testLot(c.id, start)
		lot.AuctionDate = start.Add(100*24*time.Hour).AddDate(0, 0, c.auctionDays)
		if err := s.SaveLot(ctx, &lot); err != nil {
			t.Fatalf("save: %v", err)
		}
		if c.state != "" && c.id != "old-recently-touched" {
			if _, err := s.SetUserState(ctx, c.id, c.state); err != nil {
				t.Fatalf("set state: %v", err)
			}
		}
	}

	clock.Advance(100 * 24 * time.Hour)
	if _, err := s.SetUserState(ctx, "old-recently-touched", model.StateNew); err != nil {
		t.Fatalf("set state: %v", err)
	}

	deleted, err := s.CleanupOldItems(ctx, 90)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if diff := cmp.Diff(2, deleted); diff != "" {
		t.Errorf("deleted count mismatch (-want +got):\n%s", diff)
	}

	for _, c := range cases {
		_, err := s.GetLot(ctx, c.id)
		kept := err == nil
		if kept != c.wantKept {
			t.Errorf("lot %s kept = %v, want %v (err %v)", c.id, kept, c.wantKept, err)
		}
	}

	assertIndexes(t, s, map[model.ItemState][]string{
		model.StateNew:      {"old-recently-touched"},
		model.StateFavorite: {"old-favorite"},
		model.StateIgnored:  {"future-ignored"},
	})

	m, err := s.GetMetadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if m.LastCleanup == nil || !m.LastCleanup.Equal(clock.Now()) {
		t.Errorf("lastCleanup = %v, want %v", m.LastCleanup, clock.Now())
	}
	if diff := cmp.Diff(3, m.TotalLots); diff != "" {
		t.Errorf("total lots mismatch (-want +got):\n%s", diff)
	}
}

func TestClearLotsKeepsSettings(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)

	lot := testLot("z", clock.Now())
	if err := s.SaveLot(ctx, &lot); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.SetUserState(ctx, "z", model.StateFavorite); err != nil {
		t.Fatalf("set state: %v", err)
	}
	f := model.DefaultFilterSet(clock.Now())
	f.IncludeKeywords = []string{"pendule"}
	if err := s.SaveFilters(ctx, f); err != nil {
		t.Fatalf("save filters: %v", err)
	}
	p := model.DefaultPreferences(clock.Now())
	p.AutoCleanupDays = 30
	if err := s.SavePreferences(ctx, p); err != nil {
		t.Fatalf("save prefs: %v", err)
	}
	if err := s.CacheCity(ctx, "42", "Lyon"); err != nil {
		t.Fatalf("cache city: %v", err)
	}

	if err := s.ClearLots(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	ids, err := s.GetAllLotIDs(ctx)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("lots remain: %v", ids)
	}
	assertIndexes(t, s, nil)

	gotF, _ := s.GetFilters(ctx)
	if diff := cmp.Diff(f, gotF); diff != "" {
		t.Errorf("filters lost (-want +got):\n%s", diff)
	}
	gotP, _ := s.GetPreferences(ctx)
	if diff := cmp.Diff(p, gotP); diff != "" {
		t.Errorf("preferences lost (-want +got):\n%s", diff)
	}
	m, _ := s.GetMetadata(ctx)
	if diff := cmp.Diff(model.Metadata{LastSync: clock.Now()}, m); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestCityCache(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestDB(t)

	if _, err := s.GetCachedCity(ctx, "7", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := s.CacheCity(ctx, "7", "Bordeaux"); err != nil {
		t.Fatalf("cache: %v", err)
	}
	got, err := s.GetCachedCity(ctx, "7", time.Hour)
	if err != nil {
		t.Fatalf("get cached: %v", err)
	}
	if diff := cmp.Diff("Bordeaux", got); diff != "" {
		t.Errorf("city mismatch (-want +got):\n%s", diff)
	}

	clock.Advance(2 * time.Hour)
	if _, err := s.GetCachedCity(ctx, "7", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired entry, got %v", err)
	}
}

func TestIndexDisjointnessProperty(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestDB(t)

	properties := gopter.NewProperties(nil)
	properties.Property("each stated lot sits in exactly its own index", prop.ForAll(
		func(lots, states []int) bool {
			if err := s.ClearLots(ctx); err != nil {
				t.Logf("clear: %v", err)
				return false
			}
			want := make(map[string]model.ItemState)
			for i := 0; i < len(lots) && i < len(states); i++ {
				id := fmt.Sprintf("p%d", lots[i])
				state := model.States[states[i]]
				if _, err := s.SetUserState(ctx, id, state); err != nil {
					t.Logf("set state: %v", err)
					return false
				}
				want[id] = state
			}

			got := make(map[string]model.ItemState)
			for _, state := range model.States {
				ids, err := s.IndexIDs(ctx, state)
				if err != nil {
					return false
				}
				for _, id := range ids {
					if _, dup := got[id]; dup {
						return false
					}
					got[id] = state
				}
			}
			return cmp.Equal(want, got, cmpopts.EquateEmpty())
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.SliceOf(gen.IntRange(0, len(model.States)-1)),
	))
	properties.TestingRun(t)
}

// assertIndexes checks every state index against want; states absent from
// want must be empty.
func assertIndexes(t *testing.T, s *SQLite, want map[model.ItemState][]string) {
	t.Helper()
	for _, state := range model.States {
		got, err := s.IndexIDs(context.Background(), state)
		if err != nil {
			t.Fatalf("index %s: %v", state, err)
		}
		if diff := cmp.Diff(want[state], got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("index %s mismatch (-want +got):\n%s", state, diff)
		}
	}
}

// Ensure the Storage interface is satisfied.
var _ Storage = (*SQLite)(nil)
