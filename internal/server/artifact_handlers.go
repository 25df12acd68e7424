package server

import (
	"encoding/json"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/refdata/internal/domain"
	"github.com/aristath/refdata/internal/modules/factors"
	"github.com/aristath/refdata/internal/modules/mapfiles"
	"github.com/aristath/refdata/internal/modules/universe"
)

// ArtifactHandlers serves generated artifacts over HTTP. Each GET delegates
// to the owning engine, so a request for a missing or stale artifact triggers
// its generation before the response is written.
type ArtifactHandlers struct {
	dataDir  string
	factors  *factors.Engine
	maps     *mapfiles.Engine
	universe *universe.Engine
	log      zerolog.Logger
}

// NewArtifactHandlers creates artifact handlers over the three engines.
func NewArtifactHandlers(dataDir string, factorEngine *factors.Engine, mapEngine *mapfiles.Engine, universeEngine *universe.Engine, log zerolog.Logger) *ArtifactHandlers {
	return &ArtifactHandlers{
		dataDir:  dataDir,
		factors:  factorEngine,
		maps:     mapEngine,
		universe: universeEngine,
		log:      log.With().Str("component", "artifact_handlers").Logger(),
	}
}

// HandleFactorFile handles GET /api/factor-files/{symbol}.
func (h *ArtifactHandlers) HandleFactorFile(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NewEquity(chi.URLParam(r, "symbol"))
	file, ok := h.factors.Get(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no factor file for symbol")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Write(file.Marshal())
}

// HandleMapFile handles GET /api/map-files/{symbol}.
func (h *ArtifactHandlers) HandleMapFile(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NewEquity(chi.URLParam(r, "symbol"))
	file, ok := h.maps.Resolve(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no map file for symbol")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Write(file.Marshal())
}

// HandleCoarse handles GET /api/universe/coarse/{date} with the date in
// yyyyMMdd form.
func (h *ArtifactHandlers) HandleCoarse(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse(domain.DateFormatCompact, chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be yyyyMMdd")
		return
	}

	if err := h.universe.GenerateFor(date); err != nil {
		h.log.Error().Err(err).Str("date", date.Format(domain.DateFormatCompact)).Msg("Coarse generation failed")
		writeError(w, http.StatusBadGateway, "coarse generation failed")
		return
	}

	data, err := os.ReadFile(universe.CoarseFilePath(h.dataDir, date))
	if err != nil {
		writeError(w, http.StatusNotFound, "no coarse file for date")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Write(data)
}

// fundamentalResponse is the JSON shape for property lookups. NaN values are
// rendered as null, which encoding/json cannot do for raw float64.
type fundamentalResponse struct {
	Ticker   string      `json:"ticker,omitempty"`
	PermID   string      `json:"perm_id,omitempty"`
	Property string      `json:"property"`
	Date     string      `json:"date"`
	Value    interface{} `json:"value"`
}

// HandleFundamental handles GET /api/fundamental?ticker=&property=&date=.
// A perm_id parameter instead of ticker routes the lookup through the coarse
// rows, which also resolves price and volume properties.
func (h *ArtifactHandlers) HandleFundamental(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	property := q.Get("property")
	ticker := q.Get("ticker")
	permID := q.Get("perm_id")

	if property == "" || (ticker == "" && permID == "") {
		writeError(w, http.StatusBadRequest, "property and one of ticker or perm_id are required")
		return
	}

	date, err := time.Parse(domain.DateFormatISO, q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be yyyy-MM-dd")
		return
	}

	resp := fundamentalResponse{
		Ticker:   ticker,
		PermID:   permID,
		Property: property,
		Date:     date.Format(domain.DateFormatISO),
	}
	if permID != "" {
		resp.Value = sanitizeValue(h.universe.Get(property, date, permID))
	} else {
		prop := universe.ParseProperty(property)
		resp.Value = sanitizeValue(h.universe.Fundamentals().Value(ticker, prop, date))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// sanitizeValue maps NaN to nil so the response stays valid JSON.
func sanitizeValue(v interface{}) interface{} {
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return nil
	}
	return v
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
