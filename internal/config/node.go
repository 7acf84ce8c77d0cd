package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

const (
	LinkDriverProbe          = "probe"
	LinkDriverNetworkManager = "networkmanager"

	SourceFixed     = "fixed"
	SourceSimulated = "simulated"
	SourceBME280    = "bme280"
	SourceBLE       = "ble"
)

type Node struct {
	Common

	WiFiSSID      string
	WiFiPassword  string
	WiFiInterface string
	LinkDriver    string
	ProbeTarget   string

	Endpoint         string
	ReportInterval   time.Duration
	RequestTimeout   time.Duration
	AssociateTimeout time.Duration
	AssociatePoll    time.Duration
	RetryDelay       time.Duration

	SampleSource string
	// Fixed values; WindSpeed and NoiseLevel also fill the aux channels of
	// sources that only measure temperature and humidity.
	FixedTemperature float64
	FixedHumidity    float64
	FixedWindSpeed   float64
	FixedNoiseLevel  float64
	BME280Address    uint16
	BLEAdapter       string
	BLEMaxAge        time.Duration

	IndicatorPin       string
	IndicatorActiveLow bool

	DeviceStationID string
	MQTT            MQTT
	MetricsAddr     string
}

func LoadNodeFromEnv() (Node, error) {
	common, err := loadCommon()
	if err != nil {
		return Node{}, err
	}

	cfg := Node{
		Common:          common,
		WiFiSSID:        envString("WIFI_SSID", ""),
		WiFiPassword:    envString("WIFI_PASSWORD", ""),
		WiFiInterface:   envString("WIFI_INTERFACE", "wlan0"),
		LinkDriver:      envString("LINK_DRIVER", LinkDriverProbe),
		Endpoint:        envString("REPORT_ENDPOINT", "http://localhost:3000/api/weather"),
		SampleSource:    envString("SAMPLE_SOURCE", SourceFixed),
		BLEAdapter:      envString("BLE_ADAPTER", "hci0"),
		IndicatorPin:    envString("INDICATOR_PIN", ""),
		DeviceStationID: envString("DEVICE_STATION_ID", "home"),
		MetricsAddr:     envString("METRICS_ADDR", ""),
	}

	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return Node{}, fmt.Errorf("invalid REPORT_ENDPOINT %q: %w", cfg.Endpoint, err)
	}
	if (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return Node{}, fmt.Errorf("invalid REPORT_ENDPOINT %q: must be an absolute http(s) URL", cfg.Endpoint)
	}

	switch cfg.LinkDriver {
	case LinkDriverProbe:
	case LinkDriverNetworkManager:
		if cfg.WiFiSSID == "" {
			return Node{}, fmt.Errorf("WIFI_SSID is required when LINK_DRIVER=%s", LinkDriverNetworkManager)
		}
	default:
		return Node{}, fmt.Errorf("invalid LINK_DRIVER %q (allowed: %s, %s)", cfg.LinkDriver, LinkDriverProbe, LinkDriverNetworkManager)
	}
	cfg.ProbeTarget = envString("LINK_PROBE_TARGET", hostPort(endpoint))

	switch cfg.SampleSource {
	case SourceFixed, SourceSimulated, SourceBME280, SourceBLE:
	default:
		return Node{}, fmt.Errorf("invalid SAMPLE_SOURCE %q (allowed: fixed, simulated, bme280, ble)", cfg.SampleSource)
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"REPORT_INTERVAL", 5 * time.Second, &cfg.ReportInterval},
		{"REQUEST_TIMEOUT", 8 * time.Second, &cfg.RequestTimeout},
		{"ASSOCIATE_TIMEOUT", 20 * time.Second, &cfg.AssociateTimeout},
		{"ASSOCIATE_POLL", 500 * time.Millisecond, &cfg.AssociatePoll},
		{"RETRY_DELAY", time.Second, &cfg.RetryDelay},
		{"BLE_MAX_AGE", 30 * time.Second, &cfg.BLEMaxAge},
	}
	for _, d := range durations {
		v, err := envPositiveDuration(d.key, d.def)
		if err != nil {
			return Node{}, err
		}
		*d.dst = v
	}

	floats := []struct {
		key string
		def float64
		dst *float64
	}{
		{"FIXED_TEMPERATURE", 26.5, &cfg.FixedTemperature},
		{"FIXED_HUMIDITY", 51.2, &cfg.FixedHumidity},
		{"FIXED_WIND_SPEED", 0, &cfg.FixedWindSpeed},
		{"FIXED_NOISE_LEVEL", 0, &cfg.FixedNoiseLevel},
	}
	for _, f := range floats {
		v, err := envFloat(f.key, f.def)
		if err != nil {
			return Node{}, err
		}
		*f.dst = v
	}

	bme280AddressStr := envString("BME280_ADDRESS", "0x76")
	bme280Address, err := strconv.ParseUint(bme280AddressStr, 0, 16)
	if err != nil {
		return Node{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", bme280AddressStr, err)
	}
	cfg.BME280Address = uint16(bme280Address)

	cfg.IndicatorActiveLow, err = envBool("INDICATOR_ACTIVE_LOW", true)
	if err != nil {
		return Node{}, err
	}

	cfg.MQTT, err = loadMQTT("cloudpico-node")
	if err != nil {
		return Node{}, err
	}

	return cfg, nil
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
