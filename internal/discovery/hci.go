package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"bluebridge/internal/btaddr"
	"bluebridge/internal/bterr"
	"bluebridge/internal/hci"
)

// radio is the slice of package hci the scanner needs.
type radio interface {
	Route() (int, error)
	DeviceInfo(id int) (hci.Info, error)
	Inquiry(ctx context.Context, dev int, p hci.InquiryParams) ([]btaddr.Address, error)
}

type kernelRadio struct{}

func (kernelRadio) Route() (int, error)                 { return hci.Route() }
func (kernelRadio) DeviceInfo(id int) (hci.Info, error) { return hci.DeviceInfo(id) }
func (kernelRadio) Inquiry(ctx context.Context, dev int, p hci.InquiryParams) ([]btaddr.Address, error) {
	return hci.Inquiry(ctx, dev, p)
}

// HCI scans with a raw kernel inquiry.
type HCI struct {
	cfg   Config
	radio radio
	log   *logrus.Entry
	// limit overrides the scan bound when non-zero.
	limit time.Duration
}

func NewHCI(cfg Config, log *logrus.Entry) *HCI {
	return &HCI{cfg: cfg, radio: kernelRadio{}, log: componentLogger(log, BackendHCI)}
}

// route resolves the adapter on every call; adapters come and go.
func (h *HCI) route() (int, error) {
	if h.cfg.Device < 0 {
		return h.radio.Route()
	}
	info, err := h.radio.DeviceInfo(h.cfg.Device)
	if err != nil {
		return -1, err
	}
	if !info.Up {
		return -1, hci.ErrNoDevice
	}
	return info.ID, nil
}

func (h *HCI) Available(ctx context.Context) bool {
	_, err := h.route()
	if err != nil {
		h.log.WithError(err).Debug("no usable radio")
	}
	return err == nil
}

// scanLimit bounds one inquiry. The kernel gives up after about 2s per
// length unit; the extra slack keeps a wedged controller from holding the
// caller forever.
func (h *HCI) scanLimit() time.Duration {
	if h.limit > 0 {
		return h.limit
	}
	return time.Duration(h.cfg.InquiryLength)*2*time.Second + 2*time.Second
}

func (h *HCI) Scan(ctx context.Context) ([]btaddr.Address, error) {
	dev, err := h.route()
	if err != nil {
		if errors.Is(err, hci.ErrNoDevice) || errors.Is(err, hci.ErrNotSupported) {
			return nil, bterr.E(bterr.NoRadio, "scan", err)
		}
		return nil, bterr.E(bterr.DiscoveryFailed, "scan", err)
	}

	ictx, cancel := context.WithTimeout(ctx, h.scanLimit())
	defer cancel()

	log := h.log.WithFields(logrus.Fields{"dev": dev, "window": h.cfg.window()})
	log.Debug("inquiry started")
	addrs, err := h.radio.Inquiry(ictx, dev, h.cfg.params())
	if err != nil {
		if ctx.Err() != nil {
			return nil, bterr.E(bterr.Cancelled, "scan", ctx.Err())
		}
		log.WithError(err).Warn("inquiry failed")
		return nil, bterr.E(bterr.DiscoveryFailed, "scan", err)
	}
	log.WithField("found", len(addrs)).Info("inquiry finished")
	return addrs, nil
}
