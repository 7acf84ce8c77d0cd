package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cloudpico-node/internal/collector/db"
	"cloudpico-node/internal/collector/httpapi"
	"cloudpico-node/internal/collector/migrate"
	"cloudpico-node/internal/collector/store"
	"cloudpico-node/internal/config"
	"cloudpico-node/internal/metrics"
	"cloudpico-node/internal/mqtt"
)

func Run(ctx context.Context, cfg config.Collector) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqliteDriver", cfg.SQLiteDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"sqliteMaxIdleConns", cfg.SQLiteMaxIdleConns,
		"sqliteConnMaxLifetime", cfg.SQLiteConnMaxLifetime,
		"alertTemperature", cfg.AlertTemperature,
		"mqttBroker", cfg.MQTT.Broker,
		"mqttPort", cfg.MQTT.Port,
	)

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			slog.Error("db close", "error", closeErr)
		}
	}()

	n, err := migrate.Run(ctx, dbConn)
	if err != nil {
		return err
	}
	slog.Info("database ready", "migrationsApplied", n)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := httpapi.Deps{
		DB:        dbConn,
		Repo:      store.NewRepository(dbConn),
		AlertTemp: cfg.AlertTemperature,
		Metrics:   metrics.NewCollector(reg),
		Gatherer:  reg,
		Logger:    slog.Default(),
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled() {
		mqttClient = mqtt.NewClient(cfg.MQTT, slog.Default())
		fwd := httpapi.NewForwarder(mqttClient, 0, slog.Default())
		go fwd.Run(ctx)
		deps.Forwarder = fwd

		// Short timeout so a missing broker does not block startup. paho keeps
		// retrying in the background.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err = mqttClient.Connect(connectCtx)
		connectCancel()
		if err != nil {
			slog.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
	}

	srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewRouter(deps))

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if mqttClient != nil {
		slog.Info("mqtt disconnecting")
		mqttClient.Disconnect()
	}

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
