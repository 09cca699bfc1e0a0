// Package stm32dfu implements the USB Device Firmware Update (DFU) protocol as spoken by
// the STM32 ROM DFU bootloader (ST application note AN3156).
//
// The package contains two main components: Conn and Updater.
// Conn provides access to the individual DFU requests and to the erase and program
// sequences over an open device Handle. Updater provides the high-level update
// sequence (connect, erase, program, detach, disconnect), using a provided
// Transport to reach the device.
//
// Also included is a command line tool, found in the cmd/stm32dfu directory,
// that serves as both an example on how to use the library and a host program
// to flash STM32 devices over USB.
package stm32dfu

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// FlashBase is the address of the start of the STM32 main flash.
const FlashBase = 0x08000000

// BlockSize is the number of bytes carried by each program DNLOAD.
const BlockSize = 2048

// DFU class requests.
const (
	requestDetach    = 0x00
	requestDnload    = 0x01
	requestUpload    = 0x02
	requestGetStatus = 0x03
	requestClrStatus = 0x04
	requestGetState  = 0x05
	requestAbort     = 0x06
)

// ST bootloader command opcodes, sent through DNLOAD with value 0.
const (
	commandSetAddress = 0x21
	commandErase      = 0x41
)

const (
	statusLength = 6
	// Block numbers 0 and 1 are reserved for command mode and the address-set block.
	blockOffset = 2
)

// StatusCode is the bStatus field of a GET_STATUS response.
type StatusCode uint8

// Status codes defined by the DFU 1.1 class specification.
const (
	StatusOK StatusCode = iota
	StatusErrTarget
	StatusErrFile
	StatusErrWrite
	StatusErrErase
	StatusErrCheckErased
	StatusErrProg
	StatusErrVerify
	StatusErrAddress
	StatusErrNotDone
	StatusErrFirmware
	StatusErrVendor
	StatusErrUSBReset
	StatusErrPOR
	StatusErrUnknown
	StatusErrStalledPkt
)

var statusStrings = [...]string{
	StatusOK:             "ok",
	StatusErrTarget:      "file is not for this target",
	StatusErrFile:        "file fails a vendor-specific verification test",
	StatusErrWrite:       "unable to write memory",
	StatusErrErase:       "memory erase function failed",
	StatusErrCheckErased: "memory erase check failed",
	StatusErrProg:        "program memory function failed",
	StatusErrVerify:      "programmed memory failed verification",
	StatusErrAddress:     "memory address is out of range",
	StatusErrNotDone:     "premature DNLOAD with zero length",
	StatusErrFirmware:    "firmware is corrupt",
	StatusErrVendor:      "vendor-specific error",
	StatusErrUSBReset:    "unexpected USB reset signaling",
	StatusErrPOR:         "unexpected power on reset",
	StatusErrUnknown:     "unknown error",
	StatusErrStalledPkt:  "stalled an unexpected request",
}

func (c StatusCode) String() string {
	if int(c) < len(statusStrings) {
		return statusStrings[c]
	}
	return fmt.Sprintf("invalid status code %d", uint8(c))
}

// State is the bState field of a GET_STATUS response.
type State uint8

// Device states defined by the DFU 1.1 class specification.
const (
	StateAppIdle State = iota
	StateAppDetach
	StateIdle
	StateDnloadSync
	StateDnbusy
	StateDnloadIdle
	StateManifestSync
	StateManifest
	StateManifestWaitReset
	StateUploadIdle
	StateError
)

var stateStrings = [...]string{
	StateAppIdle:           "appIDLE",
	StateAppDetach:         "appDETACH",
	StateIdle:              "dfuIDLE",
	StateDnloadSync:        "dfuDNLOAD-SYNC",
	StateDnbusy:            "dfuDNBUSY",
	StateDnloadIdle:        "dfuDNLOAD-IDLE",
	StateManifestSync:      "dfuMANIFEST-SYNC",
	StateManifest:          "dfuMANIFEST",
	StateManifestWaitReset: "dfuMANIFEST-WAIT-RESET",
	StateUploadIdle:        "dfuUPLOAD-IDLE",
	StateError:             "dfuERROR",
}

func (s State) String() string {
	if int(s) < len(stateStrings) {
		return stateStrings[s]
	}
	return fmt.Sprintf("invalid state %d", uint8(s))
}

// Filter selects the USB device to open. A zero ProductID matches any product
// of the vendor.
type Filter struct {
	VendorID  uint16
	ProductID uint16
}

// STBootloader matches the STM32 ROM DFU bootloader (0483:df11).
var STBootloader = Filter{VendorID: 0x0483, ProductID: 0xdf11}

func (f Filter) String() string {
	if f.ProductID == 0 {
		return fmt.Sprintf("%04x:*", f.VendorID)
	}
	return fmt.Sprintf("%04x:%04x", f.VendorID, f.ProductID)
}

// The Transport interface opens DFU devices. Implementations are provided by the
// host USB stack, see NewUSBTransport.
type Transport interface {
	Open(filter Filter) (Handle, error)
}

// Handle is an open USB device. All control transfers are class requests to an
// interface recipient; the request type byte is supplied by the implementation.
type Handle interface {
	SelectConfiguration(n int) error
	ClaimInterface(n int) error
	ControlOut(request uint8, value, index uint16, data []byte) error
	ControlIn(request uint8, value, index uint16, length int) ([]byte, error)
	Close() error
}

// addressCommand returns the 5 byte command buffer for an ST bootloader
// command taking an address.
func addressCommand(opcode byte, address uint32) []byte {
	b := make([]byte, 5)
	b[0] = opcode
	binary.LittleEndian.PutUint32(b[1:], address)
	return b
}

// NewEraseCommand returns the page erase command for the page at address.
func NewEraseCommand(address uint32) []byte {
	return addressCommand(commandErase, address)
}

// NewSetAddressCommand returns the command that sets the bootloader's address pointer.
func NewSetAddressCommand(address uint32) []byte {
	return addressCommand(commandSetAddress, address)
}

// ParseStatus decodes a GET_STATUS response. Only byte 1 of the poll timeout
// field is used unless fullTimeout is set, in which case bytes 1 to 3 are read
// as a 24 bit little-endian value.
func ParseStatus(data []byte, fullTimeout bool) (Status, error) {
	if len(data) < statusLength {
		return Status{}, errors.Errorf("invalid status length %d", len(data))
	}

	timeout := uint32(data[1])
	if fullTimeout {
		timeout |= uint32(data[2])<<8 | uint32(data[3])<<16
	}

	return Status{
		Code:        StatusCode(data[0]),
		PollTimeout: msDuration(timeout),
		State:       State(data[4]),
	}, nil
}
