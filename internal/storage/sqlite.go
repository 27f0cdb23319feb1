package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"lot_monitor/internal/model"
	"lot_monitor/migrations"
)

const (
	keyFilters     = "filters"
	keyPreferences = "preferences"
	keyMetadata    = "metadata"
)

const lotColumns = `id, external_id, title, description, category, estimate_min, estimate_max,
	current_bid, currency, auction_date, auction_house, city, image_url, url, sale_type,
	list_order, first_seen_at, last_seen_at, detail_scraped_at, match_score, match_reason`

const stateColumns = `lot_id, state, created_at, last_state_change, view_count,
	viewed_at, favorited_at, ignored_at, notes, tags`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time

	// mu serialises read-modify-write operations so that an index update is
	// never observed half applied.
	mu sync.Mutex
}

// Option customises a SQLite store.
type Option func(*SQLite)

// WithClock replaces time.Now as the source of timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLite) { s.now = now }
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string, opts ...Option) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases shared and writes serial.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=10000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := migrations.Up(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// --- lots ---

// GetLot returns a single lot by its ID.
func (s *SQLite) GetLot(ctx context.Context, id string) (*model.Lot, error) {
	return getLot(ctx, s.db, id)
}

// GetLots returns the lots with the given IDs in the same order.
// IDs without a stored lot are skipped.
func (s *SQLite) GetLots(ctx context.Context, ids []string) ([]model.Lot, error) {
	lots := make([]model.Lot, 0, len(ids))
	for _, id := range ids {
		lot, err := getLot(ctx, s.db, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		lots = append(lots, *lot)
	}
	return lots, nil
}

// GetAllLots returns every stored lot.
func (s *SQLite) GetAllLots(ctx context.Context) ([]model.Lot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+lotColumns+` FROM lots ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query lots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lots []model.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *lot)
	}
	return lots, rows.Err()
}

// GetAllLotIDs returns the IDs of every stored lot.
func (s *SQLite) GetAllLotIDs(ctx context.Context) ([]string, error) {
	return queryIDs(ctx, s.db, `SELECT id FROM lots ORDER BY rowid`)
}

// SaveLot inserts or replaces a lot.
func (s *SQLite) SaveLot(ctx context.Context, lot *model.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertLot(ctx, s.db, lot)
}

// SaveLots inserts or replaces a batch of lots in one transaction.
func (s *SQLite) SaveLots(ctx context.Context, lots []model.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range lots {
			if err := upsertLot(ctx, tx, &lots[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateLot applies update to a stored lot and persists the result.
// It does nothing if the lot does not exist.
func (s *SQLite) UpdateLot(ctx context.Context, id string, update func(*model.Lot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		lot, err := getLot(ctx, tx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		update(lot)
		lot.ID = id
		return upsertLot(ctx, tx, lot)
	})
}

// DeleteLot removes a lot, its user state and its index entry.
func (s *SQLite) DeleteLot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deleteLot(ctx, tx, id)
	})
}

// --- user states and indexes ---

// SetUserState creates or transitions the user state of a lot and moves the
// lot to the matching index.
func (s *SQLite) SetUserState(ctx context.Context, lotID string, state model.ItemState) (*model.UserState, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("invalid state %q", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result *model.UserState
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()

		existing, err := getUserState(ctx, tx, lotID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		us := model.UserState{
			LotID:           lotID,
			State:           state,
			CreatedAt:       now,
			LastStateChange: now,
		}
		if existing != nil {
			us.CreatedAt = existing.CreatedAt
			us.ViewCount = existing.ViewCount
			us.ViewedAt = existing.ViewedAt
			us.FavoritedAt = existing.FavoritedAt
			us.IgnoredAt = existing.IgnoredAt
			us.Notes = existing.Notes
			us.Tags = existing.Tags
		}

		switch state {
		case model.StateSeen:
			us.ViewedAt = &now
			us.ViewCount++
		case model.StateFavorite:
			us.FavoritedAt = &now
		case model.StateIgnored:
			us.IgnoredAt = &now
		}

		if err := upsertUserState(ctx, tx, &us); err != nil {
			return err
		}
		if err := updateIndexes(ctx, tx, lotID, state); err != nil {
			return err
		}
		result = &us
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateUserState gives a lot the NEW state unless it already has a state.
// It reports whether a state was created.
func (s *SQLite) CreateUserState(ctx context.Context, lotID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := getUserState(ctx, tx, lotID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		now := s.now()
		us := model.UserState{
			LotID:           lotID,
			State:           model.StateNew,
			CreatedAt:       now,
			LastStateChange: now,
		}
		if err := upsertUserState(ctx, tx, &us); err != nil {
			return err
		}
		if err := updateIndexes(ctx, tx, lotID, model.StateNew); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// UpdateUserNotes replaces the notes and tags of an existing user state.
// It does nothing if the lot has no user state.
func (s *SQLite) UpdateUserNotes(ctx context.Context, lotID, notes string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		us, err := getUserState(ctx, tx, lotID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		us.Notes = notes
		us.Tags = tags
		us.LastStateChange = s.now()
		return upsertUserState(ctx, tx, us)
	})
}

// GetUserState returns the user state of a lot.
func (s *SQLite) GetUserState(ctx context.Context, lotID string) (*model.UserState, error) {
	return getUserState(ctx, s.db, lotID)
}

// UpdateIndexes removes the lot from every index and appends it to the index
// of the given state.
func (s *SQLite) UpdateIndexes(ctx context.Context, lotID string, state model.ItemState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid state %q", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return updateIndexes(ctx, tx, lotID, state)
	})
}

// IndexIDs returns the lot IDs of one state index in insertion order.
func (s *SQLite) IndexIDs(ctx context.Context, state model.ItemState) ([]string, error) {
	return queryIDs(ctx, s.db, `SELECT lot_id FROM state_index WHERE state = ? ORDER BY seq`, string(state))
}

// GetItems returns the lots of one state index with their user state attached.
// Index entries whose lot is missing are skipped.
func (s *SQLite) GetItems(ctx context.Context, state model.ItemState) ([]model.Item, error) {
	ids, err := s.IndexIDs(ctx, state)
	if err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		lot, err := getLot(ctx, s.db, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		item := model.Item{Lot: *lot}
		us, err := getUserState(ctx, s.db, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		item.State = us
		items = append(items, item)
	}
	return items, nil
}

// --- settings ---

// GetFilters returns the stored filter set merged over the defaults.
func (s *SQLite) GetFilters(ctx context.Context) (model.FilterSet, error) {
	f := model.DefaultFilterSet(s.now())
	if err := getSetting(ctx, s.db, keyFilters, &f); err != nil {
		return model.FilterSet{}, err
	}
	return f, nil
}

// SaveFilters persists the filter set.
func (s *SQLite) SaveFilters(ctx context.Context, f model.FilterSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putSetting(ctx, s.db, keyFilters, f)
}

// GetPreferences returns the stored preferences or the defaults.
func (s *SQLite) GetPreferences(ctx context.Context) (model.Preferences, error) {
	p := model.DefaultPreferences(s.now())
	if err := getSetting(ctx, s.db, keyPreferences, &p); err != nil {
		return model.Preferences{}, err
	}
	return p, nil
}

// SavePreferences persists the preferences.
func (s *SQLite) SavePreferences(ctx context.Context, p model.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putSetting(ctx, s.db, keyPreferences, p)
}

// GetMetadata returns the last computed counters.
func (s *SQLite) GetMetadata(ctx context.Context) (model.Metadata, error) {
	var m model.Metadata
	if err := getSetting(ctx, s.db, keyMetadata, &m); err != nil {
		return model.Metadata{}, err
	}
	return m, nil
}

// UpdateCounts recomputes the metadata counters from lots and indexes.
func (s *SQLite) UpdateCounts(ctx context.Context) (model.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m model.Metadata
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		m, err = updateCounts(ctx, tx, s.now())
		return err
	})
	return m, err
}

// --- maintenance ---

// CleanupOldItems deletes lots whose auction is over, that are not favorites
// and whose state has not changed for olderThanDays. It returns the number of
// deleted lots.
func (s *SQLite) CleanupOldItems(ctx context.Context, olderThanDays int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := toMillis(now.AddDate(0, 0, -olderThanDays))

	deleted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ids, err := queryIDs(ctx, tx,
			`SELECT l.id FROM lots l
			 LEFT JOIN user_states us ON us.lot_id = l.id
			 WHERE l.auction_date <= ?
			   AND (us.state IS NULL OR us.state <> ?)
			   AND (us.last_state_change IS NULL OR us.last_state_change <= ?)`,
			toMillis(now), string(model.StateFavorite), cutoff,
		)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := deleteLot(ctx, tx, id); err != nil {
				return err
			}
		}
		deleted = len(ids)

		m, err := updateCounts(ctx, tx, now)
		if err != nil {
			return err
		}
		m.LastCleanup = &now
		return putSetting(ctx, tx, keyMetadata, m)
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ClearLots removes every lot, user state, index entry and counter while
// keeping filters and preferences.
func (s *SQLite) ClearLots(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM state_index`,
			`DELETE FROM user_states`,
			`DELETE FROM lots`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("clear lots: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM settings WHERE key NOT IN (?, ?)`, keyFilters, keyPreferences,
		); err != nil {
			return fmt.Errorf("clear settings: %w", err)
		}
		_, err := updateCounts(ctx, tx, s.now())
		return err
	})
}

// --- city cache ---

// GetCachedCity returns a cached city no older than maxAge.
func (s *SQLite) GetCachedCity(ctx context.Context, auctioneerID string, maxAge time.Duration) (string, error) {
	var city string
	var fetchedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT city, fetched_at FROM city_cache WHERE auctioneer_id = ?`, auctioneerID,
	).Scan(&city, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get cached city: %w", err)
	}
	if s.now().Sub(fromMillis(fetchedAt)) > maxAge {
		return "", ErrNotFound
	}
	return city, nil
}

// CacheCity stores the city of an auction house.
func (s *SQLite) CacheCity(ctx context.Context, auctioneerID, city string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO city_cache (auctioneer_id, city, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(auctioneer_id) DO UPDATE SET city = excluded.city, fetched_at = excluded.fetched_at`,
		auctioneerID, city, toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("cache city: %w", err)
	}
	return nil
}

// --- helpers ---

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func getLot(ctx context.Context, q querier, id string) (*model.Lot, error) {
	row := q.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ?`, id)
	lot, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lot, err
}

func upsertLot(ctx context.Context, q querier, lot *model.Lot) error {
	if lot.ID == "" {
		return model.ErrMissingIdentity
	}
	reasons, err := json.Marshal(nonNil(lot.MatchReason))
	if err != nil {
		return fmt.Errorf("encode match reason: %w", err)
	}
	var listOrder sql.NullInt64
	if lot.ListOrder != nil {
		listOrder = sql.NullInt64{Int64: int64(*lot.ListOrder), Valid: true}
	}

	_, err = q.ExecContext(ctx,
		`INSERT OR REPLACE INTO lots (`+lotColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.ID, lot.ExternalID, lot.Title, lot.Description, lot.Category,
		lot.EstimateMin, lot.EstimateMax, lot.CurrentBid, lot.Currency,
		toMillis(lot.AuctionDate), lot.AuctionHouse, nullString(lot.City),
		lot.ImageURL, lot.URL, lot.SaleType, listOrder,
		toMillis(lot.FirstSeenAt), toMillis(lot.LastSeenAt), nullTime(lot.DetailScrapedAt),
		lot.MatchScore, string(reasons),
	)
	if err != nil {
		return fmt.Errorf("upsert lot %s: %w", lot.ID, err)
	}
	return nil
}

func deleteLot(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM state_index WHERE lot_id = ?`, id); err != nil {
		return fmt.Errorf("delete index entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_states WHERE lot_id = ?`, id); err != nil {
		return fmt.Errorf("delete user state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM lots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete lot: %w", err)
	}
	return nil
}

func getUserState(ctx context.Context, q querier, lotID string) (*model.UserState, error) {
	row := q.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM user_states WHERE lot_id = ?`, lotID)
	us, err := scanUserState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return us, err
}

func upsertUserState(ctx context.Context, q querier, us *model.UserState) error {
	tags, err := json.Marshal(nonNil(us.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT OR REPLACE INTO user_states (`+stateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		us.LotID, string(us.State), toMillis(us.CreatedAt), toMillis(us.LastStateChange),
		us.ViewCount, nullTime(us.ViewedAt), nullTime(us.FavoritedAt), nullTime(us.IgnoredAt),
		us.Notes, string(tags),
	)
	if err != nil {
		return fmt.Errorf("upsert user state %s: %w", us.LotID, err)
	}
	return nil
}

func updateIndexes(ctx context.Context, q querier, lotID string, state model.ItemState) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM state_index WHERE lot_id = ?`, lotID); err != nil {
		return fmt.Errorf("remove from indexes: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO state_index (lot_id, state) VALUES (?, ?)`, lotID, string(state),
	); err != nil {
		return fmt.Errorf("append to %s index: %w", strings.ToLower(string(state)), err)
	}
	return nil
}

func updateCounts(ctx context.Context, q querier, now time.Time) (model.Metadata, error) {
	var m model.Metadata
	if err := getSetting(ctx, q, keyMetadata, &m); err != nil {
		return m, err
	}

	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM lots`).Scan(&m.TotalLots); err != nil {
		return m, fmt.Errorf("count lots: %w", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT state, COUNT(*) FROM state_index GROUP BY state`)
	if err != nil {
		return m, fmt.Errorf("count indexes: %w", err)
	}
	counts := make(map[model.ItemState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			_ = rows.Close()
			return m, fmt.Errorf("scan index count: %w", err)
		}
		counts[model.ItemState(state)] = n
	}
	if err := rows.Close(); err != nil {
		return m, err
	}

	m.NewCount = counts[model.StateNew]
	m.SeenCount = counts[model.StateSeen]
	m.FavoriteCount = counts[model.StateFavorite]
	m.IgnoredCount = counts[model.StateIgnored]
	m.LastSync = now

	return m, putSetting(ctx, q, keyMetadata, m)
}

func getSetting(ctx context.Context, q querier, key string, dst any) error {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func putSetting(ctx context.Context, q querier, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLot(row scannable) (*model.Lot, error) {
	var l model.Lot
	var auctionDate, firstSeen, lastSeen int64
	var city sql.NullString
	var listOrder, detailScraped sql.NullInt64
	var reasons string
	err := row.Scan(
		&l.ID, &l.ExternalID, &l.Title, &l.Description, &l.Category,
		&l.EstimateMin, &l.EstimateMax, &l.CurrentBid, &l.Currency,
		&auctionDate, &l.AuctionHouse, &city, &l.ImageURL, &l.URL, &l.SaleType,
		&listOrder, &firstSeen, &lastSeen, &detailScraped, &l.MatchScore, &reasons,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan lot: %w", err)
	}
	l.AuctionDate = fromMillis(auctionDate)
	l.FirstSeenAt = fromMillis(firstSeen)
	l.LastSeenAt = fromMillis(lastSeen)
	if city.Valid {
		c := city.String
		l.City = &c
	}
	if listOrder.Valid {
		n := int(listOrder.Int64)
		l.ListOrder = &n
	}
	l.DetailScrapedAt = timePtr(detailScraped)
	if err := json.Unmarshal([]byte(reasons), &l.MatchReason); err != nil {
		return nil, fmt.Errorf("decode match reason: %w", err)
	}
	if len(l.MatchReason) == 0 {
		l.MatchReason = nil
	}
	return &l, nil
}

func scanUserState(row scannable) (*model.UserState, error) {
	var us model.UserState
	var state, tags string
	var created, changed int64
	var viewed, favorited, ignored sql.NullInt64
	err := row.Scan(&us.LotID, &state, &created, &changed, &us.ViewCount,
		&viewed, &favorited, &ignored, &us.Notes, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan user state: %w", err)
	}
	us.State = model.ItemState(state)
	us.CreatedAt = fromMillis(created)
	us.LastStateChange = fromMillis(changed)
	us.ViewedAt = timePtr(viewed)
	us.FavoritedAt = timePtr(favorited)
	us.IgnoredAt = timePtr(ignored)
	if err := json.Unmarshal([]byte(tags), &us.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if len(us.Tags) == 0 {
		us.Tags = nil
	}
	return &us, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
