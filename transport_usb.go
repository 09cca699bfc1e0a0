package stm32dfu

import (
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

// ErrDeviceNotFound is returned when no USB device matches the filter.
var ErrDeviceNotFound = errors.New("device not found")

const (
	requestTypeOut = gousb.ControlOut | gousb.ControlClass | gousb.ControlInterface
	requestTypeIn  = gousb.ControlIn | gousb.ControlClass | gousb.ControlInterface
)

type usbTransport struct {
	timeout time.Duration
}

// NewUSBTransport creates a transport that reaches devices through libusb.
// Each control transfer fails if it does not complete within timeout.
func NewUSBTransport(timeout time.Duration) Transport {
	return &usbTransport{timeout: timeout}
}

type usbHandle struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
}

func (t *usbTransport) Open(filter Filter) (Handle, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != gousb.ID(filter.VendorID) {
			return false
		}
		return filter.ProductID == 0 || desc.Product == gousb.ID(filter.ProductID)
	})
	// OpenDevices may return devices alongside an error for the ones it could
	// not open; use the first usable one.
	if len(devs) == 0 {
		ctx.Close()
		if err != nil {
			return nil, err
		}
		return nil, ErrDeviceNotFound
	}
	for _, d := range devs[1:] {
		d.Close()
	}

	dev := devs[0]
	dev.ControlTimeout = t.timeout
	if err := dev.SetAutoDetach(true); err != nil {
		pkgLog.Debugf("auto detach not supported: %v", err)
	}
	pkgLog.Debugf("opened %v", dev)

	return &usbHandle{ctx: ctx, dev: dev}, nil
}

func (h *usbHandle) SelectConfiguration(n int) error {
	cfg, err := h.dev.Config(n)
	if err != nil {
		return err
	}
	h.cfg = cfg
	return nil
}

func (h *usbHandle) ClaimInterface(n int) error {
	if h.cfg == nil {
		return errors.New("no configuration selected")
	}
	intf, err := h.cfg.Interface(n, 0)
	if err != nil {
		return err
	}
	h.intf = intf
	return nil
}

func (h *usbHandle) ControlOut(request uint8, value, index uint16, data []byte) error {
	n, err := h.dev.Control(requestTypeOut, request, value, index, data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return errors.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

func (h *usbHandle) ControlIn(request uint8, value, index uint16, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := h.dev.Control(requestTypeIn, request, value, index, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (h *usbHandle) Close() error {
	if h.intf != nil {
		h.intf.Close()
	}
	var errs []error
	if h.cfg != nil {
		errs = append(errs, h.cfg.Close())
	}
	errs = append(errs, h.dev.Close(), h.ctx.Close())
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
