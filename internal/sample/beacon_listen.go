package sample

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"
)

// Match is a single observation of a sensor beacon.
type Match struct {
	Address   string
	RSSI      int16
	CompanyID uint16
	Data      []byte
	SeenAt    time.Time
}

// Listener wraps BlueZ scanning with context cancellation.
type Listener struct {
	name      string
	adapter   *bluetooth.Adapter
	companyID uint16
	prefix    []byte
	logger    *slog.Logger
}

func NewListener(adapter string, logger *slog.Logger) *Listener {
	if adapter == "" {
		adapter = "hci0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		name:      adapter,
		adapter:   bluetooth.NewAdapter(adapter),
		companyID: BeaconCompanyID,
		prefix:    BeaconPrefix,
		logger:    logger,
	}
}

// Run blocks until ctx is done or the scan fails.
func (l *Listener) Run(ctx context.Context, onMatch func(Match)) error {
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", l.name, err)
	}

	go func() {
		<-ctx.Done()
		_ = l.adapter.StopScan()
	}()

	l.logger.Info("ble: scanning started",
		"adapter", l.name,
		"company", fmt.Sprintf("0x%04X", l.companyID),
		"prefix", fmt.Sprintf("% X", l.prefix),
	)

	// Scan blocks until StopScan or an error.
	err := l.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		for _, md := range r.ManufacturerData() {
			if md.CompanyID != l.companyID || !bytes.HasPrefix(md.Data, l.prefix) {
				continue
			}
			onMatch(Match{
				Address:   r.Address.String(),
				RSSI:      r.RSSI,
				CompanyID: md.CompanyID,
				Data:      append([]byte(nil), md.Data...),
				SeenAt:    time.Now(),
			})
			return
		}
	})

	if ctx.Err() != nil {
		l.logger.Info("ble: scanning stopped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("ble scan: %w", err)
	}
	return nil
}
