package stm32dfu

import (
	"time"
)

// Status holds the result of a GET_STATUS request.
type Status struct {
	Code        StatusCode
	State       State
	PollTimeout time.Duration
}

func msDuration(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Conn issues DFU requests to the interface of an open device. A Conn must not be
// used from more than one goroutine: every request is followed by its status
// exchanges before the next one starts.
type Conn struct {
	handle      Handle
	iface       uint16
	sleep       func(time.Duration)
	fullTimeout bool
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithInterface sets the interface number used as wIndex. The default is 0.
func WithInterface(n uint16) ConnOption {
	return func(c *Conn) {
		c.iface = n
	}
}

// WithSleep replaces the function used to wait for the poll timeout reported
// by the device.
func WithSleep(sleep func(time.Duration)) ConnOption {
	return func(c *Conn) {
		c.sleep = sleep
	}
}

// WithFullPollTimeout decodes the poll timeout as the 24 bit field defined by
// DFU 1.1 instead of only its low byte.
func WithFullPollTimeout() ConnOption {
	return func(c *Conn) {
		c.fullTimeout = true
	}
}

// NewConn creates a Conn using the provided handle, which must already have its
// interface claimed.
func NewConn(handle Handle, opts ...ConnOption) *Conn {
	c := &Conn{
		handle: handle,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetStatus requests the device status, waits for the poll timeout it reports and
// returns it. An error status or the dfuERROR state is returned as a
// DeviceFaultError.
func (c *Conn) GetStatus() (Status, error) {
	data, err := c.handle.ControlIn(requestGetStatus, 0, c.iface, statusLength)
	if err != nil {
		return Status{}, transportErr("get status", err)
	}
	status, err := ParseStatus(data, c.fullTimeout)
	if err != nil {
		return Status{}, transportErr("get status", err)
	}

	pkgLog.Debugf("status %v state %v timeout %v", status.Code, status.State, status.PollTimeout)
	c.sleep(status.PollTimeout)

	if status.Code != StatusOK || status.State == StateError {
		return status, &DeviceFaultError{Code: status.Code, State: status.State}
	}
	return status, nil
}

// ClearStatus resets the device out of the dfuERROR state.
func (c *Conn) ClearStatus() error {
	err := c.handle.ControlOut(requestClrStatus, 0, c.iface, nil)
	return transportErr("clear status", err)
}

// Download issues a DNLOAD request with the given block number.
func (c *Conn) Download(value uint16, data []byte) error {
	err := c.handle.ControlOut(requestDnload, value, c.iface, data)
	return transportErr("download", err)
}

// command sends an ST bootloader command and waits for it to complete. The first
// GET_STATUS starts execution and reports how long it will take, the second
// confirms completion.
func (c *Conn) command(value uint16, data []byte) error {
	if err := c.Download(value, data); err != nil {
		return err
	}
	if _, err := c.GetStatus(); err != nil {
		return err
	}
	_, err := c.GetStatus()
	return err
}

// Detach sends a zero length DNLOAD followed by GET_STATUS, which makes the ST
// bootloader leave DFU mode and start the application.
func (c *Conn) Detach() error {
	if err := c.Download(0, nil); err != nil {
		return err
	}
	_, err := c.GetStatus()
	return err
}
