// Package api exposes the costing core as a small HTTP command surface.
// Every mutating command runs under a single-writer lock; a second writer
// arriving while one is in flight is rejected with BusyWriter rather than
// queued.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"fifo-costing/internal/config"
	"fifo-costing/internal/db"
	"fifo-costing/internal/engine"
	"fifo-costing/internal/ingest"
	"fifo-costing/internal/logger"
)

// Server wires the store, the runtime config, and the pure engine into
// HTTP handlers.
type Server struct {
	db     *db.DB
	writer *semaphore.Weighted

	cfgMu sync.RWMutex
	cfg   *config.Config
}

// NewServer creates a Server with the given config and database.
func NewServer(cfg *config.Config, database *db.DB) *Server {
	return &Server{
		db:     database,
		writer: semaphore.NewWeighted(1),
		cfg:    cfg,
	}
}

func (s *Server) config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	c := *s.cfg
	return &c
}

// Handler returns the HTTP handler with all API routes and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleSetConfig)
	mux.HandleFunc("GET /api/catalog/products", s.handleGetProducts)
	mux.HandleFunc("POST /api/catalog/products", s.handlePostProducts)
	mux.HandleFunc("GET /api/catalog/mappings", s.handleGetMappings)
	mux.HandleFunc("POST /api/catalog/mappings", s.handlePostMappings)
	mux.HandleFunc("POST /api/inbound/import", s.handleImportInbound)
	mux.HandleFunc("POST /api/inbound/import-csv", s.handleImportInboundCSV)
	mux.HandleFunc("POST /api/inbound/import-duty-csv", s.handleImportDutyCSV)
	mux.HandleFunc("POST /api/costs/rebuild", s.handleRebuildCosts)
	mux.HandleFunc("POST /api/sales/import", s.handleImportSales)
	mux.HandleFunc("POST /api/fifo/rebuild", s.handleFifoRebuild)
	mux.HandleFunc("POST /api/summary/rebuild", s.handleSummaryRebuild)
	mux.HandleFunc("GET /api/summary", s.handleGetSummary)
	mux.HandleFunc("POST /api/orders/reverse", s.handleReverseOrder)
	mux.HandleFunc("GET /api/orders/allocations", s.handleOrderAllocations)
	mux.HandleFunc("GET /api/inventory", s.handleInventory)
	return corsMiddleware(mux)
}

// withWriter runs fn under the single-writer lock. A writer already in
// flight fails the call immediately with BusyWriter.
func (s *Server) withWriter(fn func() error) error {
	if !s.writer.TryAcquire(1) {
		return engine.Errf(engine.KindBusyWriter, "another write operation is in progress")
	}
	defer s.writer.Release(1)
	return fn()
}

// --- command result envelope ---

type envelope struct {
	OK       bool             `json:"ok"`
	Warnings []engine.Warning `json:"warnings,omitempty"`
	Error    *engine.Error    `json:"error,omitempty"`
	Data     interface{}      `json:"data,omitempty"`
}

func writeResult(w http.ResponseWriter, data interface{}, warnings []engine.Warning) {
	writeJSON(w, envelope{OK: true, Warnings: warnings, Data: data})
}

// writeFailure maps the error taxonomy onto HTTP status codes. Context
// cancellation and deadline errors from the store are reclassified first.
func writeFailure(w http.ResponseWriter, err error) {
	e := classify(err)
	status := http.StatusInternalServerError
	switch e.Kind {
	case engine.KindInvalidInbound, engine.KindInvalidRow, engine.KindUnmappedSku:
		status = http.StatusBadRequest
	case engine.KindShortfall:
		status = http.StatusConflict
	case engine.KindBusyWriter:
		status = http.StatusConflict
	case engine.KindAbortedByTimeout:
		status = http.StatusGatewayTimeout
	case engine.KindAbortedByCancel:
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{OK: false, Error: e})
}

// classify folds arbitrary errors into the taxonomy. Anything the engine
// or store did not type is a StoreError.
func classify(err error) *engine.Error {
	var e *engine.Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.Errf(engine.KindAbortedByTimeout, "operation exceeded its deadline, rolled back")
	}
	if errors.Is(err, context.Canceled) {
		return engine.Errf(engine.KindAbortedByCancel, "operation canceled, rolled back")
	}
	return engine.Errf(engine.KindStoreError, "%v", err)
}

// --- status and config ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int64{}
	for table, q := range map[string]string{
		"batches":          `SELECT COUNT(*) FROM batch`,
		"lots":             `SELECT COUNT(*) FROM lot_balance`,
		"sales_rows":       `SELECT COUNT(*) FROM sales_raw`,
		"live_allocations": `SELECT COUNT(*) FROM allocation_detail WHERE reversed_by IS NULL`,
		"reversals":        `SELECT COUNT(*) FROM reversal`,
	} {
		var n int64
		if err := s.db.SqlDB().QueryRow(q).Scan(&n); err == nil {
			counts[table] = n
		}
	}
	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"counts": counts,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.config())
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config JSON: "+err.Error())
		return
	}
	if _, err := time.LoadLocation(cfg.ReportingTimezone); err != nil {
		writeError(w, http.StatusBadRequest, "unknown reporting_timezone "+cfg.ReportingTimezone)
		return
	}
	if err := s.db.SaveConfig(cfg); err != nil {
		writeFailure(w, err)
		return
	}
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	logger.Success("CONFIG", "runtime config updated")
	writeJSON(w, cfg)
}

// --- catalog ---

func (s *Server) handleGetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.db.ListProducts()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, products)
}

func (s *Server) handlePostProducts(w http.ResponseWriter, r *http.Request) {
	var products []db.Product
	if err := json.NewDecoder(r.Body).Decode(&products); err != nil {
		writeError(w, http.StatusBadRequest, "invalid products JSON: "+err.Error())
		return
	}
	var n int
	err := s.withWriter(func() error {
		var err error
		n, err = s.db.UpsertProducts(products)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, map[string]int{"upserted": n}, nil)
}

func (s *Server) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.db.ListSkuMappings()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, mappings)
}

func (s *Server) handlePostMappings(w http.ResponseWriter, r *http.Request) {
	var mappings []db.SkuMapping
	if err := json.NewDecoder(r.Body).Decode(&mappings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid mappings JSON: "+err.Error())
		return
	}
	cfg := s.config()
	var n int
	err := s.withWriter(func() error {
		var err error
		n, err = s.db.UpsertSkuMappings(mappings, cfg.IntegerKitMultipliers)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, map[string]int{"upserted": n}, nil)
}

// --- inbound and costs ---

func (s *Server) handleImportInbound(w http.ResponseWriter, r *http.Request) {
	var imp db.InboundImport
	if err := json.NewDecoder(r.Body).Decode(&imp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid inbound JSON: "+err.Error())
		return
	}
	s.importInbound(w, imp, nil)
}

func (s *Server) handleImportInboundCSV(w http.ResponseWriter, r *http.Request) {
	batches, items, warnings, err := ingest.ParseInboundCSV(r.Body)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.importInbound(w, db.InboundImport{Batches: batches, Items: items}, warnings)
}

func (s *Server) handleImportDutyCSV(w http.ResponseWriter, r *http.Request) {
	pools, overrides, warnings, err := ingest.ParseDutyCSV(r.Body)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.importInbound(w, db.InboundImport{DutyPools: pools, DutyOverrides: overrides}, warnings)
}

// importInbound upserts the payload and immediately re-freezes lot costs,
// so a successful import always leaves lot_cost consistent with the
// inbound ledger.
func (s *Server) importInbound(w http.ResponseWriter, imp db.InboundImport, warnings []engine.Warning) {
	var counts db.ImportCounts
	err := s.withWriter(func() error {
		var err error
		counts, err = s.db.ImportInbound(imp)
		if err != nil {
			return err
		}
		costWarnings, err := s.rebuildCosts()
		warnings = append(warnings, costWarnings...)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	logger.Success("INBOUND", "imported "+counts.String())
	writeResult(w, counts, warnings)
}

func (s *Server) handleRebuildCosts(w http.ResponseWriter, r *http.Request) {
	var warnings []engine.Warning
	err := s.withWriter(func() error {
		var err error
		warnings, err = s.rebuildCosts()
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, map[string]string{"costs": "rebuilt"}, warnings)
}

// rebuildCosts re-runs the cost allocator over the full inbound ledger and
// replaces lot_cost. Caller holds the writer lock.
func (s *Server) rebuildCosts() ([]engine.Warning, error) {
	batches, items, pools, overrides, err := s.db.LoadInbound()
	if err != nil {
		return nil, err
	}
	costs, warnings, err := engine.ComputeLotCosts(batches, items, pools, overrides)
	if err != nil {
		return warnings, err
	}
	if err := s.db.ReplaceLotCosts(costs, items); err != nil {
		return warnings, err
	}
	logger.Info("COSTS", fmt.Sprintf("froze %d lot costs across %d batches", len(costs), len(batches)))
	return warnings, nil
}

// --- sales ---

type salesImportResult struct {
	Parsed   int                  `json:"parsed"`
	Inserted int                  `json:"inserted"`
	Unmapped []engine.UnmappedSale `json:"unmapped,omitempty"`
}

func (s *Server) handleImportSales(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()

	loc := cfg.Location()
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown tz "+tz)
			return
		}
		loc = l
	}
	marketplace := r.URL.Query().Get("marketplace")
	if marketplace == "" {
		marketplace = cfg.DefaultMarketplace
	}

	rows, warnings, err := ingest.ParseSalesCSV(r.Body, marketplace, loc)
	if err != nil {
		writeFailure(w, err)
		return
	}

	var result salesImportResult
	result.Parsed = len(rows)
	err = s.withWriter(func() error {
		n, err := s.db.InsertSalesRows(rows)
		result.Inserted = n
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	// Preview which rows would not normalize, so mapping gaps surface at
	// import time instead of at month rebuild.
	if mappings, err := s.db.ActiveMappings(); err == nil {
		_, unmapped, normWarnings := engine.Normalize(rows, mappings, cfg.OrderTypeLabel)
		result.Unmapped = unmapped
		warnings = append(warnings, normWarnings...)
	} else {
		logger.Warn("SALES", "mapping preview unavailable: "+err.Error())
	}

	logger.Success("SALES", fmt.Sprintf("parsed %d rows, inserted %d new", result.Parsed, result.Inserted))
	writeResult(w, result, warnings)
}

// --- FIFO rebuild, summary, reversal ---

type fifoRebuildRequest struct {
	YM          string `json:"ym"`
	Marketplace string `json:"marketplace,omitempty"`
}

type fifoRebuildResult struct {
	*db.RebuildResult
	Demands  int                   `json:"demands"`
	Unmapped []engine.UnmappedSale `json:"unmapped,omitempty"`
}

func (s *Server) handleFifoRebuild(w http.ResponseWriter, r *http.Request) {
	var req fifoRebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rebuild JSON: "+err.Error())
		return
	}
	cfg := s.config()
	loc := cfg.Location()

	start, end, err := engine.MonthWindow(req.YM, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		result   fifoRebuildResult
		warnings []engine.Warning
	)
	err = s.withWriter(func() error {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.RebuildTimeout())
		defer cancel()

		rows, err := s.db.SalesRowsInWindow(start, end, req.Marketplace)
		if err != nil {
			return err
		}
		mappings, err := s.db.ActiveMappings()
		if err != nil {
			return err
		}
		demands, unmapped, normWarnings := engine.Normalize(rows, mappings, cfg.OrderTypeLabel)
		warnings = append(warnings, normWarnings...)
		result.Demands = len(demands)
		result.Unmapped = unmapped

		res, err := s.db.RebuildMonth(ctx, start, end, req.Marketplace, demands, cfg.AllowNegativeLots)
		if err != nil {
			return err
		}
		result.RebuildResult = res
		for _, sf := range res.Shortfalls {
			warnings = append(warnings, engine.Warnf(engine.KindShortfall,
				"order %s: %s short %d units", sf.OrderID, sf.InternalSKU, sf.Short))
		}
		return nil
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	logger.Success("FIFO", fmt.Sprintf("rebuilt %s: %d demands, %d units allocated, %d shortfalls",
		req.YM, result.Demands, result.Allocated, len(result.Shortfalls)))
	writeResult(w, result, warnings)
}

type summaryRebuildRequest struct {
	YM string `json:"ym"`
}

func (s *Server) handleSummaryRebuild(w http.ResponseWriter, r *http.Request) {
	var req summaryRebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid summary JSON: "+err.Error())
		return
	}
	cfg := s.config()
	start, end, err := engine.MonthWindow(req.YM, cfg.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var summaries []engine.MonthSummary
	err = s.withWriter(func() error {
		allocations, err := s.db.LiveAllocationsInWindow(start, end)
		if err != nil {
			return err
		}
		summaries = engine.SummarizeMonth(req.YM, allocations, time.Now().UTC())
		return s.db.SaveMonthSummaries(req.YM, summaries)
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	logger.Success("SUMMARY", fmt.Sprintf("summarized %s: %d rows", req.YM, len(summaries)))
	writeResult(w, summaries, nil)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.db.MonthSummaries(r.URL.Query().Get("ym"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, summaries)
}

type reverseOrderRequest struct {
	OrderID string `json:"order_id"`
	Note    string `json:"note,omitempty"`
}

func (s *Server) handleReverseOrder(w http.ResponseWriter, r *http.Request) {
	var req reverseOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid reverse JSON: "+err.Error())
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	cfg := s.config()

	var result *db.ReversalResult
	err := s.withWriter(func() error {
		var err error
		result, err = s.db.ReverseOrder(req.OrderID, req.Note, cfg.Location())
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	var warnings []engine.Warning
	if result.ReversedRows == 0 {
		warnings = append(warnings, engine.Warnf(engine.KindInvalidRow,
			"order %s has no live allocations, nothing reversed", req.OrderID))
	} else {
		logger.Success("REVERSE", fmt.Sprintf("order %s: reversed %d rows across %d lots (months %v stale)",
			req.OrderID, result.ReversedRows, len(result.Lots), result.Months))
	}
	writeResult(w, result, warnings)
}

// handleOrderAllocations returns every allocation row ever written for an
// order, reversed ones included, so the audit trail is inspectable.
func (s *Server) handleOrderAllocations(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	allocations, reversedBy, err := s.db.AllocationsForOrder(orderID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	type row struct {
		engine.Allocation
		ReversedBy string `json:"reversed_by,omitempty"`
	}
	rows := make([]row, len(allocations))
	for i, a := range allocations {
		rows[i] = row{Allocation: a, ReversedBy: reversedBy[i]}
	}
	writeJSON(w, rows)
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.InventoryRows(r.URL.Query().Get("sku"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, rows)
}

// --- plumbing ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{OK: false, Error: engine.Errf(engine.KindInvalidRow, "%s", msg)})
}
