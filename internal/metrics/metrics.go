package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cloudpico-node/internal/link"
	"cloudpico-node/internal/report"
)

// Node holds the node's collectors. A nil *Node is valid and records nothing.
type Node struct {
	cycles         *prometheus.CounterVec
	linkState      prometheus.Gauge
	associateFails prometheus.Counter
	reportDuration *prometheus.HistogramVec
}

func NewNode(reg prometheus.Registerer) *Node {
	n := &Node{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudpico_node_cycles_total",
			Help: "Reporting cycles by result.",
		}, []string{"result"}),
		linkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloudpico_node_link_state",
			Help: "Link state: 0 disconnected, 1 connecting, 2 connected.",
		}),
		associateFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cloudpico_node_associate_failures_total",
			Help: "Association attempts that did not complete within the window.",
		}),
		reportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudpico_node_report_duration_seconds",
			Help:    "Duration of report exchanges that reached the network.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"outcome"}),
	}
	reg.MustRegister(n.cycles, n.linkState, n.associateFails, n.reportDuration)
	return n
}

// ObserveCycle counts one finished cycle. result is "missing_data" or a
// report outcome kind.
func (n *Node) ObserveCycle(result string) {
	if n == nil {
		return
	}
	n.cycles.WithLabelValues(result).Inc()
}

func (n *Node) SetLinkState(_, to link.State) {
	if n == nil {
		return
	}
	n.linkState.Set(float64(to))
}

func (n *Node) AssociateFailed(link.RetryState) {
	if n == nil {
		return
	}
	n.associateFails.Inc()
}

func (n *Node) ObserveReport(out report.Outcome, d time.Duration) {
	if n == nil {
		return
	}
	n.reportDuration.WithLabelValues(out.Kind.String()).Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Collector holds the collector's counters. A nil *Collector records nothing.
type Collector struct {
	readings *prometheus.CounterVec
	alerts   prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudpico_collector_readings_total",
			Help: "Readings received by result (stored, invalid, store_error).",
		}, []string{"result"}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cloudpico_collector_alerts_total",
			Help: "Readings that crossed an alert threshold.",
		}),
	}
	reg.MustRegister(c.readings, c.alerts)
	return c
}

func (c *Collector) ReadingReceived(result string) {
	if c == nil {
		return
	}
	c.readings.WithLabelValues(result).Inc()
}

func (c *Collector) AlertRaised() {
	if c == nil {
		return
	}
	c.alerts.Inc()
}

// Handler serves g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
