package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	nmDest            = "org.freedesktop.NetworkManager"
	nmPath            = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmDeviceIface     = nmDest + ".Device"
	nmConnectionIface = nmDest + ".Settings.Connection"
	dbusPropertiesGet = "org.freedesktop.DBus.Properties.Get"

	// NM_DEVICE_STATE_ACTIVATED
	nmDeviceStateActivated = uint32(100)
)

// busCaller performs one method call on a NetworkManager object.
type busCaller func(ctx context.Context, path dbus.ObjectPath, method string, args ...any) *dbus.Call

// NetworkManagerRadio joins a wireless network through NetworkManager on the
// system bus. Each attempt creates a transient, non-autoconnect profile that
// is deleted again on teardown.
type NetworkManagerRadio struct {
	call  busCaller
	iface string

	device  dbus.ObjectPath
	profile dbus.ObjectPath
	active  dbus.ObjectPath
	// stale holds profiles whose deletion failed; they are retried before the
	// next activation.
	stale []dbus.ObjectPath
}

func NewNetworkManagerRadio(conn *dbus.Conn, iface string) *NetworkManagerRadio {
	return newNetworkManagerRadio(func(ctx context.Context, path dbus.ObjectPath, method string, args ...any) *dbus.Call {
		return conn.Object(nmDest, path).CallWithContext(ctx, method, 0, args...)
	}, iface)
}

func newNetworkManagerRadio(call busCaller, iface string) *NetworkManagerRadio {
	return &NetworkManagerRadio{call: call, iface: iface}
}

func (r *NetworkManagerRadio) Associate(ctx context.Context, id Identity) error {
	if id.SSID == "" {
		return fmt.Errorf("networkmanager: empty ssid")
	}
	dev, err := r.devicePath(ctx)
	if err != nil {
		return err
	}
	if err := r.purgeStale(ctx); err != nil {
		return err
	}

	call := r.call(ctx, nmPath, nmDest+".AddAndActivateConnection",
		connectionSettings(id), dev, dbus.ObjectPath("/"),
	)
	if call.Err != nil {
		return fmt.Errorf("networkmanager: add and activate %q: %w", id.SSID, call.Err)
	}
	var profile, active dbus.ObjectPath
	if err := call.Store(&profile, &active); err != nil {
		return fmt.Errorf("networkmanager: decode activation reply: %w", err)
	}
	r.profile, r.active = profile, active
	return nil
}

// Associated reports whether the device has finished activation.
func (r *NetworkManagerRadio) Associated(ctx context.Context) bool {
	dev, err := r.devicePath(ctx)
	if err != nil {
		return false
	}
	var v dbus.Variant
	if err := r.call(ctx, dev, dbusPropertiesGet, nmDeviceIface, "State").Store(&v); err != nil {
		return false
	}
	return deviceActivated(v)
}

func deviceActivated(v dbus.Variant) bool {
	state, ok := v.Value().(uint32)
	return ok && state == nmDeviceStateActivated
}

func (r *NetworkManagerRadio) Disassociate(ctx context.Context) error {
	dev, err := r.devicePath(ctx)
	if err != nil {
		return err
	}
	// Disconnect fails when the device is already down; the profile still has to go.
	discErr := r.call(ctx, dev, nmDeviceIface+".Disconnect").Err

	if r.profile != "" {
		profile := r.profile
		r.profile, r.active = "", ""
		if err := r.deleteProfile(ctx, profile); err != nil {
			r.stale = append(r.stale, profile)
			return fmt.Errorf("networkmanager: delete profile %s (retried before next attempt): %w", profile, err)
		}
	}
	if discErr != nil {
		return fmt.Errorf("networkmanager: disconnect %s: %w", r.iface, discErr)
	}
	return nil
}

// purgeStale deletes profiles left behind by failed teardowns. A profile
// NetworkManager no longer knows counts as deleted.
func (r *NetworkManagerRadio) purgeStale(ctx context.Context) error {
	var keep []dbus.ObjectPath
	var firstErr error
	for _, p := range r.stale {
		if err := r.deleteProfile(ctx, p); err != nil {
			keep = append(keep, p)
			if firstErr == nil {
				firstErr = fmt.Errorf("networkmanager: delete stale profile %s: %w", p, err)
			}
		}
	}
	r.stale = keep
	return firstErr
}

func (r *NetworkManagerRadio) deleteProfile(ctx context.Context, p dbus.ObjectPath) error {
	err := r.call(ctx, p, nmConnectionIface+".Delete").Err
	if err == nil || profileGone(err) {
		return nil
	}
	return err
}

func profileGone(err error) bool {
	var name string
	var dErr dbus.Error
	var dErrPtr *dbus.Error
	switch {
	case errors.As(err, &dErr):
		name = dErr.Name
	case errors.As(err, &dErrPtr):
		name = dErrPtr.Name
	default:
		return false
	}
	switch name {
	case "org.freedesktop.DBus.Error.UnknownObject",
		"org.freedesktop.DBus.Error.UnknownMethod",
		nmDest + ".Settings.InvalidConnection":
		return true
	}
	return false
}

func (r *NetworkManagerRadio) Describe(context.Context) []any {
	return []any{"iface", r.iface, "device", string(r.device), "active_connection", string(r.active)}
}

func (r *NetworkManagerRadio) devicePath(ctx context.Context) (dbus.ObjectPath, error) {
	if r.device != "" {
		return r.device, nil
	}
	var p dbus.ObjectPath
	err := r.call(ctx, nmPath, nmDest+".GetDeviceByIpIface", r.iface).Store(&p)
	if err != nil {
		return "", fmt.Errorf("networkmanager: lookup device %s: %w", r.iface, err)
	}
	r.device = p
	return p, nil
}

func connectionSettings(id Identity) map[string]map[string]dbus.Variant {
	settings := map[string]map[string]dbus.Variant{
		"connection": {
			"id":          dbus.MakeVariant("cloudpico-" + id.SSID),
			"type":        dbus.MakeVariant("802-11-wireless"),
			"autoconnect": dbus.MakeVariant(false),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(id.SSID)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
		"ipv4": {"method": dbus.MakeVariant("auto")},
		"ipv6": {"method": dbus.MakeVariant("auto")},
	}
	if id.Password != "" {
		settings["802-11-wireless-security"] = map[string]dbus.Variant{
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(id.Password),
		}
	}
	return settings
}
