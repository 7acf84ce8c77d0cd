package config

import (
	"fmt"
	"time"
)

type Collector struct {
	Common

	HTTPAddr string

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration

	// AlertTemperature is the temperature at or above which a reading triggers a notification.
	AlertTemperature float64

	MQTT MQTT
}

func LoadCollectorFromEnv() (Collector, error) {
	common, err := loadCommon()
	if err != nil {
		return Collector{}, err
	}

	cfg := Collector{
		Common:       common,
		HTTPAddr:     envString("HTTP_ADDR", ":3000"),
		SQLiteDriver: envString("DB_DRIVER", "sqlite3"),
		SQLiteDSN:    envString("SQLITE_DSN", ""),
		SQLitePath:   envString("SQLITE_PATH", "data/weather.db"),
	}

	cfg.SQLiteMaxOpenConns, err = envInt("DB_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Collector{}, err
	}
	cfg.SQLiteMaxIdleConns, err = envInt("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return Collector{}, err
	}

	lifetime := envString("DB_CONN_MAX_LIFETIME", "0s")
	cfg.SQLiteConnMaxLifetime, err = time.ParseDuration(lifetime)
	if err != nil {
		return Collector{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", lifetime, err)
	}

	cfg.AlertTemperature, err = envFloat("ALERT_TEMP", 40)
	if err != nil {
		return Collector{}, err
	}

	cfg.MQTT, err = loadMQTT("cloudpico-collector")
	if err != nil {
		return Collector{}, err
	}

	return cfg, nil
}
