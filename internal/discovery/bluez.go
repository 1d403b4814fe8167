package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"bluebridge/internal/btaddr"
	"bluebridge/internal/bterr"
)

// SPPUUID is the Serial Port Profile UUID advertised by RFCOMM serial peers.
const SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"

const (
	bluezService    = "org.bluez"
	deviceIface     = "org.bluez.Device1"
	adapterIface    = "org.bluez.Adapter1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsIface      = "org.freedesktop.DBus.Properties"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZ scans through bluetoothd over the system bus.
type BlueZ struct {
	cfg Config
	log *logrus.Entry
	// SPPOnly restricts results to devices that advertise SPPUUID.
	SPPOnly bool

	connect func() (*dbus.Conn, error)
}

func NewBlueZ(cfg Config, log *logrus.Entry) *BlueZ {
	return &BlueZ{
		cfg:     cfg,
		log:     componentLogger(log, BackendBlueZ),
		connect: func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() },
	}
}

func (b *BlueZ) Available(ctx context.Context) bool {
	bus, err := b.connect()
	if err != nil {
		b.log.WithError(err).Debug("system bus unavailable")
		return false
	}
	defer bus.Close()
	objs, err := getManagedObjects(ctx, bus)
	if err != nil {
		b.log.WithError(err).Debug("bluetoothd unavailable")
		return false
	}
	return len(poweredAdapters(objs, b.cfg.Device)) > 0
}

func (b *BlueZ) Scan(ctx context.Context) ([]btaddr.Address, error) {
	bus, err := b.connect()
	if err != nil {
		return nil, bterr.E(bterr.NoRadio, "scan", err)
	}
	defer bus.Close()

	objs, err := getManagedObjects(ctx, bus)
	if err != nil {
		return nil, bterr.E(bterr.NoRadio, "scan", err)
	}
	adapters := poweredAdapters(objs, b.cfg.Device)
	if len(adapters) == 0 {
		return nil, bterr.E(bterr.NoRadio, "scan", errors.New("no powered adapter"))
	}

	// Subscribe before discovery starts so no device is missed.
	sigCh := make(chan *dbus.Signal, 64)
	bus.Signal(sigCh)
	defer bus.RemoveSignal(sigCh)
	matches := [][]dbus.MatchOption{
		{dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesAdded")},
		{dbus.WithMatchInterface(propsIface), dbus.WithMatchMember("PropertiesChanged"), dbus.WithMatchOption("arg0", deviceIface)},
	}
	for _, m := range matches {
		if err := bus.AddMatchSignal(m...); err != nil {
			return nil, bterr.E(bterr.DiscoveryFailed, "scan", fmt.Errorf("AddMatchSignal: %w", err))
		}
		defer func(m []dbus.MatchOption) { _ = bus.RemoveMatchSignal(m...) }(m)
	}

	for _, ap := range adapters {
		if err := bus.Object(bluezService, ap).CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
			return nil, bterr.E(bterr.DiscoveryFailed, "scan", fmt.Errorf("StartDiscovery %s: %w", ap, err))
		}
		defer func(p dbus.ObjectPath) {
			_ = bus.Object(bluezService, p).Call(adapterIface+".StopDiscovery", 0).Err
		}(ap)
	}

	var out []btaddr.Address
	seen := make(map[btaddr.Address]bool)
	if !b.cfg.FlushCache {
		out = cachedDevices(objs, b.SPPOnly)
		for _, a := range out {
			seen[a] = true
		}
	}

	timer := time.NewTimer(b.cfg.window())
	defer timer.Stop()
	b.log.WithField("window", b.cfg.window()).Debug("discovery started")

loop:
	for !b.full(len(out)) {
		select {
		case <-ctx.Done():
			return nil, bterr.E(bterr.Cancelled, "scan", ctx.Err())
		case <-timer.C:
			break loop
		case sig := <-sigCh:
			a, ok := b.fromSignal(sig, seen)
			if !ok {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	b.log.WithField("found", len(out)).Info("discovery finished")
	return out, nil
}

func (b *BlueZ) full(n int) bool {
	return b.cfg.MaxResponses > 0 && n >= b.cfg.MaxResponses
}

// fromSignal extracts a device address from an InterfacesAdded signal,
// or from a PropertiesChanged RSSI update of a device not yet reported in
// this scan (cached devices being seen again).
func (b *BlueZ) fromSignal(sig *dbus.Signal, seen map[btaddr.Address]bool) (btaddr.Address, bool) {
	if sig == nil {
		return btaddr.Address{}, false
	}
	switch sig.Name {
	case objManagerIface + ".InterfacesAdded":
		if len(sig.Body) < 2 {
			return btaddr.Address{}, false
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		return deviceAddress(path, ifaces, b.SPPOnly)
	case propsIface + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return btaddr.Address{}, false
		}
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		if _, ok := changed["RSSI"]; !ok || b.SPPOnly {
			return btaddr.Address{}, false
		}
		a, err := btaddr.Parse(macFromPath(sig.Path))
		if err != nil || seen[a] {
			return btaddr.Address{}, false
		}
		return a, true
	}
	return btaddr.Address{}, false
}

func getManagedObjects(ctx context.Context, bus *dbus.Conn) (managedObjects, error) {
	obj := bus.Object(bluezService, dbus.ObjectPath("/"))
	var objs managedObjects
	if call := obj.CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0); call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	} else if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

// poweredAdapters lists adapters with Powered=true, sorted by path. A
// non-negative dev restricts the result to /org/bluez/hci<dev>.
func poweredAdapters(objs managedObjects, dev int) []dbus.ObjectPath {
	var out []dbus.ObjectPath
	for path, ifaces := range objs {
		props, ok := ifaces[adapterIface]
		if !ok {
			continue
		}
		if dev >= 0 && !strings.HasSuffix(string(path), fmt.Sprintf("/hci%d", dev)) {
			continue
		}
		if v, ok := props["Powered"]; ok {
			if on, _ := v.Value().(bool); on {
				out = append(out, path)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// cachedDevices returns the devices bluetoothd already knows, by path.
func cachedDevices(objs managedObjects, sppOnly bool) []btaddr.Address {
	paths := make([]dbus.ObjectPath, 0, len(objs))
	for path := range objs {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	var out []btaddr.Address
	for _, path := range paths {
		if a, ok := deviceAddress(path, objs[path], sppOnly); ok {
			out = append(out, a)
		}
	}
	return out
}

func deviceAddress(path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant, sppOnly bool) (btaddr.Address, bool) {
	props, ok := ifaces[deviceIface]
	if !ok {
		return btaddr.Address{}, false
	}
	if sppOnly {
		v, ok := props["UUIDs"]
		if !ok {
			return btaddr.Address{}, false
		}
		uu, _ := v.Value().([]string)
		if !containsUUID(uu, SPPUUID) {
			return btaddr.Address{}, false
		}
	}
	var mac string
	if v, ok := props["Address"]; ok {
		mac, _ = v.Value().(string)
	}
	if mac == "" {
		mac = macFromPath(path)
	}
	a, err := btaddr.Parse(mac)
	if err != nil {
		return btaddr.Address{}, false
	}
	return a, true
}

func containsUUID(list []string, target string) bool {
	for _, s := range list {
		if strings.EqualFold(s, target) {
			return true
		}
	}
	return false
}

func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	// Expect .../dev_XX_XX_XX_XX_XX_XX
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}
