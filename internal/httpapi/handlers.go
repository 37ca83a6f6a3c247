package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/broker"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/ports"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/stream"
)

type handlers struct {
	broker *broker.Broker
	stream *stream.Hub
	logger ports.Logger
}

func (h *handlers) register(r chi.Router) {
	r.Route("/positions", func(r chi.Router) {
		r.Post("/", h.createPosition)
		r.Get("/", h.listPositions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getPosition)
			r.Patch("/", h.updateSLTP)
			r.Delete("/", h.deletePosition)
			r.Post("/close", h.closePosition)
		})
	})

	r.Get("/stats", h.getStats)
	r.Get("/events", h.listEvents)
	r.Get("/stream", h.stream.ServeHTTP)
	r.Get("/export", h.export)

	r.Route("/settings", func(r chi.Router) {
		r.Get("/", h.getSettings)
		r.Post("/", h.updateSettings)
	})
}

func (h *handlers) createPosition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbol     string            `json:"symbol"`
		Side       domain.Side       `json:"side"`
		SizeMode   domain.SizeMode   `json:"sizeMode"`
		SizeValue  float64           `json:"sizeValue"`
		Leverage   int               `json:"leverage"`
		EntryType  domain.EntryType  `json:"entryType"`
		LimitPrice *float64          `json:"limitPrice,omitempty"`
		SL         *float64          `json:"sl,omitempty"`
		TP         *float64          `json:"tp,omitempty"`
		SLMode     domain.PriceMode  `json:"slMode,omitempty"`
		TPMode     domain.PriceMode  `json:"tpMode,omitempty"`
		Notes      string            `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, errValidationf("invalid request body: %v", err))
		return
	}

	pos, err := h.broker.CreatePosition(r.Context(), broker.CreateRequest{
		Symbol: body.Symbol, Side: body.Side, SizeMode: body.SizeMode, SizeValue: body.SizeValue,
		Leverage: body.Leverage, EntryType: body.EntryType, LimitPrice: body.LimitPrice,
		SL: body.SL, TP: body.TP, SLMode: body.SLMode, TPMode: body.TPMode, Notes: body.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

func (h *handlers) listPositions(w http.ResponseWriter, r *http.Request) {
	var status *domain.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.Status(raw)
		status = &s
	}
	positions, err := h.broker.ListPositions(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (h *handlers) getPosition(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pos, err := h.broker.GetPosition(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (h *handlers) updateSLTP(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		SL *float64 `json:"sl,omitempty"`
		TP *float64 `json:"tp,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, errValidationf("invalid request body: %v", err))
		return
	}
	pos, err := h.broker.UpdateSLTP(r.Context(), id, body.SL, body.TP)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (h *handlers) closePosition(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pos, err := h.broker.ClosePositionManual(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (h *handlers) deletePosition(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.broker.DeletePosition(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.broker.GetStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	var positionID *int64
	if raw := r.URL.Query().Get("positionId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, errValidationf("invalid positionId: %v", err))
			return
		}
		positionID = &id
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, errValidationf("invalid limit: %v", err))
			return
		}
		limit = l
	}
	events, err := h.broker.GetEvents(r.Context(), positionID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handlers) export(w http.ResponseWriter, r *http.Request) {
	var start, end time.Time
	if raw := r.URL.Query().Get("startDate"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, r, errValidationf("invalid startDate: %v", err))
			return
		}
		start = t
	}
	if raw := r.URL.Query().Get("endDate"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, r, errValidationf("invalid endDate: %v", err))
			return
		}
		end = t
	}
	symbol := r.URL.Query().Get("symbol")

	csv, err := h.broker.ExportCsvRange(r.Context(), start, end, symbol)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="positions.csv"`)
	w.Write(csv)
}

func (h *handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.broker.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *handlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch domain.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, r, errValidationf("invalid request body: %v", err))
		return
	}
	settings, err := h.broker.UpdateSettings(r.Context(), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, errValidationf("invalid id: %v", err)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errValidationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ports.ErrValidation, fmt.Sprintf(format, args...))
}

// writeError maps an error's semantic kind to an HTTP status via errors.Is,
// never by string-matching the message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ports.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ports.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ports.ErrUpstream):
		status = http.StatusBadGateway
	case errors.Is(err, ports.ErrStorage), errors.Is(err, ports.ErrInternal):
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
