package stm32dfu

import (
	"fmt"

	"github.com/pkg/errors"
)

// Configuration rule violations, reported wrapped in a ConfigError.
var (
	ErrInvalidSize        = errors.New("not a non-negative integer")
	ErrFlashSizeAlignment = errors.New("flash size must be a multiple of 1024")
	ErrPageSizeAlignment  = errors.New("page size must be a multiple of 4")
	ErrFlashPageMismatch  = errors.New("flash size must be a multiple of page size")
)

// ErrBusy is returned when an update is started while another one is running.
var ErrBusy = errors.New("update already in progress")

// ConfigError reports an invalid flash or page size.
type ConfigError struct {
	Field string
	Value interface{}
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransportError reports a failure of the USB transport, including a transfer
// that completed with a non-success status.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeviceFaultError is returned when the device reports an error status or the
// dfuERROR state.
type DeviceFaultError struct {
	Code  StatusCode
	State State
}

func (e *DeviceFaultError) Error() string {
	return fmt.Sprintf("device reported fault: %v (status %d, state %v)", e.Code, uint8(e.Code), e.State)
}

// ImageTooLargeError is returned when the block-padded image does not fit in flash.
type ImageTooLargeError struct {
	ImageSize int
	FlashSize uint32
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("image of %d bytes (%d blocks) does not fit in %d bytes of flash",
		e.ImageSize, blockCount(e.ImageSize), e.FlashSize)
}

// StageError identifies the update stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// progError records the flash address at which an erase or program step failed.
type progError struct {
	Address uint32
	Err     error
}

func (e *progError) Error() string {
	return fmt.Sprintf("error at %X: %v", e.Address, e.Err)
}

func (e *progError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}
