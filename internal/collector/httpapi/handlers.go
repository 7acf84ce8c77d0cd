package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloudpico-node/internal/collector/alerts"
	"cloudpico-node/internal/collector/store"
	"cloudpico-node/internal/metrics"
	"cloudpico-node/internal/mqtt"
)

const maxBodyBytes = 4 << 10

const defaultStationID = "default"

// rangeLimits maps ?range= to a row count at one stored reading per minute.
var rangeLimits = map[string]int{
	"1h":  60,
	"6h":  360,
	"12h": 720,
	"24h": 1440,
	"7d":  10080,
}

const defaultRange = "24h"

type Pinger interface {
	PingContext(ctx context.Context) error
}

type weatherHandler struct {
	repo      store.Repository
	forwarder *Forwarder
	alertTemp float64
	metrics   *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

type weatherRequest struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	WindSpeed   *float64 `json:"windSpeed"`
	NoiseLevel  *float64 `json:"noiseLevel"`
}

func (req weatherRequest) missing() []string {
	var out []string
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"temperature", req.Temperature},
		{"humidity", req.Humidity},
		{"windSpeed", req.WindSpeed},
		{"noiseLevel", req.NoiseLevel},
	} {
		if f.v == nil {
			out = append(out, f.name)
		}
	}
	return out
}

func (h *weatherHandler) handlePostWeather(w http.ResponseWriter, r *http.Request) {
	var req weatherRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.metrics.ReadingReceived("invalid")
		WriteJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON body"})
		return
	}
	if missing := req.missing(); len(missing) > 0 {
		h.metrics.ReadingReceived("invalid")
		WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "missing fields: " + strings.Join(missing, ", "),
		})
		return
	}

	stationID := r.Header.Get(headerStationID)
	if stationID == "" {
		stationID = defaultStationID
	}
	rd := store.Reading{
		StationID:   stationID,
		Temperature: req.Temperature,
		Humidity:    req.Humidity,
		WindSpeed:   req.WindSpeed,
		NoiseLevel:  req.NoiseLevel,
		Timestamp:   h.now().UTC(),
	}

	h.logger.Info("weather: reading received",
		"request_id", RequestID(r.Context()),
		"station_id", stationID,
		"temperature", *rd.Temperature,
		"humidity", *rd.Humidity,
		"windSpeed", *rd.WindSpeed,
		"noiseLevel", *rd.NoiseLevel,
	)

	id, err := h.repo.InsertReading(r.Context(), rd)
	if err != nil {
		h.metrics.ReadingReceived("store_error")
		h.logger.Error("weather: store reading failed", "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	rd.ID = id
	h.metrics.ReadingReceived("stored")

	h.forward(rd)

	WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// forward raises alerts and queues the reading for the broker. Failures never
// affect the HTTP response.
func (h *weatherHandler) forward(rd store.Reading) {
	ar := alerts.Reading{
		Temperature: *rd.Temperature,
		Humidity:    *rd.Humidity,
		WindSpeed:   *rd.WindSpeed,
		NoiseLevel:  *rd.NoiseLevel,
	}
	job := mirrorJob{telemetry: mqtt.Telemetry{
		StationID:   rd.StationID,
		Timestamp:   rd.Timestamp,
		Temperature: rd.Temperature,
		Humidity:    rd.Humidity,
		WindSpeed:   rd.WindSpeed,
		NoiseLevel:  rd.NoiseLevel,
	}}
	if alerts.ShouldNotify(ar, h.alertTemp) {
		messages := alerts.Build(ar)
		h.metrics.AlertRaised()
		h.logger.Warn("weather: alert", "station_id", rd.StationID, "alerts", messages)
		job.alert = &mqtt.Alert{StationID: rd.StationID, Timestamp: rd.Timestamp, Messages: messages}
	}
	h.forwarder.enqueue(job)
}

func (h *weatherHandler) handleLatest(w http.ResponseWriter, r *http.Request) {
	rd, err := h.repo.LatestReading(r.Context())
	if err != nil {
		h.logger.Error("weather: latest reading failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "database error")
		return
	}
	if rd == nil {
		WriteJSON(w, http.StatusOK, map[string]any{})
		return
	}
	WriteJSON(w, http.StatusOK, rd)
}

// rangeLimit resolves ?range=; unknown values fall back to 24h.
func rangeLimit(key string) int {
	if n, ok := rangeLimits[key]; ok {
		return n
	}
	return rangeLimits[defaultRange]
}

func (h *weatherHandler) handleReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := h.repo.RecentReadings(r.Context(), rangeLimit(r.URL.Query().Get("range")))
	if err != nil {
		h.logger.Error("weather: readings failed", "error", err)
		WriteJSON(w, http.StatusInternalServerError, []store.Reading{})
		return
	}
	WriteJSON(w, http.StatusOK, readings)
}

func (h *weatherHandler) handleCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.CountReadings(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"count": n})
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("failed to check database connectivity", "error", err)
			}
			WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
