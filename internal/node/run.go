package node

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cloudpico-node/internal/config"
	"cloudpico-node/internal/display"
	"cloudpico-node/internal/indicator"
	"cloudpico-node/internal/link"
	"cloudpico-node/internal/metrics"
	"cloudpico-node/internal/mqtt"
	"cloudpico-node/internal/report"
	"cloudpico-node/internal/schedule"
)

// Run builds every device-lifetime collaborator once and drives the
// reporting loop until ctx is cancelled.
func Run(ctx context.Context, cfg config.Node) error {
	logger := slog.Default()

	logger.Info("initializing node",
		"station_id", cfg.DeviceStationID,
		"endpoint", cfg.Endpoint,
		"link_driver", cfg.LinkDriver,
		"sample_source", cfg.SampleSource,
		"interval", cfg.ReportInterval,
	)

	var m *metrics.Node
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.NewNode(reg)
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	radio, closeRadio, err := newRadio(cfg)
	if err != nil {
		return err
	}
	defer closeRadio()

	mgr := link.NewManager(radio,
		link.Identity{SSID: cfg.WiFiSSID, Password: cfg.WiFiPassword},
		link.Options{
			AttemptTimeout: cfg.AssociateTimeout,
			PollInterval:   cfg.AssociatePoll,
			RetryDelay:     cfg.RetryDelay,
		},
		logger, nil,
		link.WithTransitionHook(m.SetLinkState),
		link.WithFailureHook(m.AssociateFailed),
	)

	src, closeSource, err := newSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	pin, err := newPin(cfg, logger)
	if err != nil {
		return err
	}
	ind := indicator.New(pin, cfg.IndicatorActiveLow, nil)
	if err := ind.Off(); err != nil {
		return err
	}

	rep := report.NewReporter(cfg.Endpoint, mgr, cfg.RequestTimeout,
		report.WithStationID(cfg.DeviceStationID),
		report.WithLogger(logger),
		report.WithObserver(m.ObserveReport),
	)

	sinks := display.Multi{display.LogSink{Logger: logger}}
	if cfg.MQTT.Enabled() {
		client := mqtt.NewClient(cfg.MQTT, logger)
		go func() {
			if err := client.Connect(ctx); err != nil {
				logger.Warn("mqtt connect failed; status sink disabled", "error", err)
			}
		}()
		defer client.Disconnect()
		sinks = append(sinks, display.NewMQTTSink(client, cfg.DeviceStationID, logger))
	}

	sched := schedule.New(mgr, src, rep, ind,
		schedule.Options{Interval: cfg.ReportInterval, IdleSleep: schedule.DefaultOptions().IdleSleep},
		logger, nil,
		schedule.WithSink(sinks),
		schedule.WithCycleHook(m.ObserveCycle),
	)

	err = sched.Run(ctx)
	logger.Info("node shutting down")
	return err
}
