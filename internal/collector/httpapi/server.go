package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"cloudpico-node/internal/collector/store"
	"cloudpico-node/internal/metrics"
)

type Deps struct {
	DB        Pinger
	Repo      store.Repository
	// Forwarder mirrors readings to the broker when set.
	Forwarder *Forwarder
	AlertTemp float64
	Metrics   *metrics.Collector
	// Gatherer enables GET /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wh := &weatherHandler{
		repo:      d.Repo,
		forwarder: d.Forwarder,
		alertTemp: d.AlertTemp,
		metrics:   d.Metrics,
		logger:    logger,
		now:       time.Now,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz(d.DB)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/weather", wh.handlePostWeather).Methods(http.MethodPost)
	api.HandleFunc("/readings/latest", wh.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/readings", wh.handleReadings).Methods(http.MethodGet)
	api.HandleFunc("/debug/count", wh.handleCount).Methods(http.MethodGet)

	if d.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(d.Gatherer)).Methods(http.MethodGet)
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", headerRequestID, headerStationID}),
	)
	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger: logger}))

	return requestID(requestLogger(logger)(recovery(cors(r))))
}

func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
