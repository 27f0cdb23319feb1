package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"lot_monitor/internal/fetcher"
	"lot_monitor/internal/ingest"
	"lot_monitor/internal/model"
	"lot_monitor/internal/query"
	"lot_monitor/internal/storage"
)

// maxBodyBytes caps request bodies; search pages carry at most a few hundred lots.
const maxBodyBytes = 10 << 20

type ingestRequest struct {
	Lots        []model.Lot `json:"lots"`
	IsEnriched  bool        `json:"isEnriched"`
	SkipFilters bool        `json:"skipFilters"`
}

type stateRequest struct {
	State model.ItemState `json:"state"`
}

type notesRequest struct {
	Notes string   `json:"notes"`
	Tags  []string `json:"tags"`
}

type searchRequest struct {
	Query string `json:"query"`
}

// pageRequest carries either converted lots or a raw upstream search payload.
type pageRequest struct {
	Lots    []model.Lot     `json:"lots"`
	Payload json.RawMessage `json:"payload"`
}

func bindJSON(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func resultPayload(r ingest.Result) gin.H {
	return gin.H{
		"added":    r.Added,
		"updated":  r.Updated,
		"enriched": r.Enriched,
		"skipped":  r.Skipped,
	}
}

func (s *Server) ingestLots(c *gin.Context) {
	var req ingestRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := s.coord.Ingest(c.Request.Context(), req.Lots, ingest.Options{
		Enriched:    req.IsEnriched,
		SkipFilters: req.SkipFilters,
	})
	if err != nil {
		s.log.Error("ingest lots", "count", len(req.Lots), "error", err)
		failWithResult(c, http.StatusInternalServerError, err, res)
		return
	}
	ok(c, resultPayload(res))
}

func (s *Server) listItems(c *gin.Context) {
	view, err := query.ParseView(c.Query("filter"))
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	items, err := s.items.Items(c.Request.Context(), view)
	if err != nil {
		s.log.Error("list items", "view", view, "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	ok(c, gin.H{"items": items, "count": len(items)})
}

func (s *Server) updateState(c *gin.Context) {
	var req stateRequest
	if !bindJSON(c, &req) {
		return
	}
	if !req.State.Valid() {
		fail(c, http.StatusBadRequest, fmt.Errorf("invalid state %q", req.State))
		return
	}

	us, err := s.coord.UpdateState(c.Request.Context(), c.Param("id"), req.State)
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, fmt.Errorf("lot %s not found", c.Param("id")))
		return
	}
	if err != nil {
		s.log.Error("update state", "lot_id", c.Param("id"), "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"state": us})
}

func (s *Server) updateNotes(c *gin.Context) {
	var req notesRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.coord.UpdateNotes(c.Request.Context(), c.Param("id"), req.Notes, req.Tags); err != nil {
		s.log.Error("update notes", "lot_id", c.Param("id"), "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, nil)
}

func (s *Server) newCount(c *gin.Context) {
	n, err := s.coord.NewCount(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"count": n})
}

func (s *Server) stats(c *gin.Context) {
	m, err := s.coord.Metadata(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"metadata": m})
}

func (s *Server) getFilters(c *gin.Context) {
	f, err := s.coord.Filters(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"filters": f})
}

// putFilters decodes the body over the default filter set, so fields left out
// of the request keep their default value.
func (s *Server) putFilters(c *gin.Context) {
	f := model.DefaultFilterSet(s.now())
	if !bindJSON(c, &f) {
		return
	}
	if err := validateFilters(f); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if f.SortMode == "" {
		f.SortMode = model.SortDefault
	}

	ctx := c.Request.Context()
	if err := s.coord.UpdateFilters(ctx, f); err != nil {
		s.log.Error("update filters", "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	saved, err := s.coord.Filters(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"filters": saved})
}

func validateFilters(f model.FilterSet) error {
	if f.PriceMin < 0 || f.PriceMax < f.PriceMin || f.PriceMax == 0 {
		return fmt.Errorf("invalid price range %g-%g", f.PriceMin, f.PriceMax)
	}
	if f.DateTo.IsZero() || f.DateTo.Before(f.DateFrom) {
		return fmt.Errorf("invalid date range %s-%s",
			f.DateFrom.Format(time.DateOnly), f.DateTo.Format(time.DateOnly))
	}
	switch f.SortMode {
	case "", model.SortDefault, model.SortEstimateAsc:
	default:
		return fmt.Errorf("unknown sort mode %q", f.SortMode)
	}
	return nil
}

func (s *Server) getPreferences(c *gin.Context) {
	p, err := s.coord.Preferences(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"preferences": p})
}

func (s *Server) putPreferences(c *gin.Context) {
	var p model.Preferences
	if !bindJSON(c, &p) {
		return
	}
	if err := s.coord.UpdatePreferences(c.Request.Context(), p); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ok(c, gin.H{"preferences": p})
}

func (s *Server) clear(c *gin.Context) {
	if err := s.coord.ClearData(c.Request.Context()); err != nil {
		s.log.Error("clear data", "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, nil)
}

func (s *Server) cleanup(c *gin.Context) {
	n, err := s.coord.Cleanup(c.Request.Context())
	if err != nil {
		s.log.Error("cleanup", "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"deleted": n})
}

func (s *Server) startSearch(c *gin.Context) {
	var req searchRequest
	if !bindJSON(c, &req) {
		return
	}
	q := strings.TrimSpace(req.Query)
	if q == "" {
		fail(c, http.StatusBadRequest, errors.New("query is required"))
		return
	}

	search, err := s.coord.StartSearch(c.Request.Context(), q)
	if errors.Is(err, ingest.ErrSearchInProgress) {
		fail(c, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.log.Error("start search", "query", q, "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"search": search})
}

func (s *Server) addSearchPage(c *gin.Context) {
	search, found := s.coord.ActiveSearch(c.Param("id"))
	if !found {
		fail(c, http.StatusConflict, ingest.ErrSuperseded)
		return
	}

	var req pageRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	lots := req.Lots
	if len(req.Payload) > 0 {
		parsed, err := fetcher.ParseAPIResponse(ctx, req.Payload, s.cities, s.now().UTC())
		if err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
		lots = append(lots, parsed...)
	}

	res, err := search.AddPage(ctx, lots)
	if errors.Is(err, ingest.ErrSuperseded) {
		failWithResult(c, http.StatusConflict, err, res)
		return
	}
	if err != nil {
		s.log.Error("add search page", "search_id", search.ID, "error", err)
		failWithResult(c, http.StatusInternalServerError, err, res)
		return
	}
	ok(c, resultPayload(res))
}

func (s *Server) finishSearch(c *gin.Context) {
	search, found := s.coord.ActiveSearch(c.Param("id"))
	if !found {
		fail(c, http.StatusConflict, ingest.ErrSuperseded)
		return
	}
	res, err := search.Finish()
	if err != nil {
		fail(c, http.StatusConflict, err)
		return
	}
	ok(c, resultPayload(res))
}
