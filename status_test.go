package stm32dfu

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestParseStatus(t *testing.T) {
	data := []byte{0, 0x20, 0x01, 0x00, byte(StateDnbusy), 0}

	s, err := ParseStatus(data, false)
	if err != nil {
		t.Fatal(err)
	}
	if s.Code != StatusOK || s.State != StateDnbusy || s.PollTimeout != 32*time.Millisecond {
		t.Errorf("unexpected status %+v", s)
	}

	s, err = ParseStatus(data, true)
	if err != nil {
		t.Fatal(err)
	}
	if s.PollTimeout != 0x120*time.Millisecond {
		t.Errorf("full poll timeout = %v, want %v", s.PollTimeout, 0x120*time.Millisecond)
	}

	if _, err := ParseStatus(data[:5], false); err == nil {
		t.Error("expected error for short status")
	}
}

func TestGetStatus(t *testing.T) {
	h := newMockHandle()
	h.statuses = [][]byte{{0, 50, 0, 0, byte(StateDnbusy), 0}}
	c, rec := newTestConn(h, WithInterface(3))

	s, err := c.GetStatus()
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateDnbusy {
		t.Errorf("state = %v, want %v", s.State, StateDnbusy)
	}
	if len(rec.slept) != 1 || rec.slept[0] != 50*time.Millisecond {
		t.Errorf("slept %v, want [50ms]", rec.slept)
	}

	tr := h.transfers[0]
	if !tr.in || tr.request != requestGetStatus || tr.value != 0 || tr.index != 3 {
		t.Errorf("unexpected transfer %+v", tr)
	}
}

func TestGetStatusFault(t *testing.T) {
	tests := []struct {
		name   string
		status []byte
		code   StatusCode
		state  State
	}{
		{"error code", []byte{byte(StatusErrAddress), 0, 0, 0, byte(StateDnloadIdle), 0}, StatusErrAddress, StateDnloadIdle},
		{"error state", []byte{0, 0, 0, 0, byte(StateError), 0}, StatusOK, StateError},
		{"both", []byte{byte(StatusErrWrite), 7, 0, 0, byte(StateError), 0}, StatusErrWrite, StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMockHandle()
			h.statuses = [][]byte{tt.status}
			c, rec := newTestConn(h)

			_, err := c.GetStatus()
			var fault *DeviceFaultError
			if !errors.As(err, &fault) {
				t.Fatalf("expected DeviceFaultError, got %v", err)
			}
			if fault.Code != tt.code || fault.State != tt.state {
				t.Errorf("fault = %+v, want code %v state %v", fault, tt.code, tt.state)
			}
			if len(rec.slept) != 1 {
				t.Errorf("expected the poll timeout to be honoured before failing")
			}
		})
	}
}

func TestGetStatusTransportErrors(t *testing.T) {
	h := newMockHandle()
	h.statuses = [][]byte{{0, 0, 0}}
	c, _ := newTestConn(h)

	var terr *TransportError
	if _, err := c.GetStatus(); !errors.As(err, &terr) {
		t.Errorf("short response: expected TransportError, got %v", err)
	}

	h.inErr = errors.New("pipe error")
	if _, err := c.GetStatus(); !errors.As(err, &terr) {
		t.Errorf("failed transfer: expected TransportError, got %v", err)
	}
}

func TestClearStatus(t *testing.T) {
	h := newMockHandle()
	c, _ := newTestConn(h)

	// Clearing an idle device has no effect beyond the request itself.
	for i := 0; i < 2; i++ {
		if err := c.ClearStatus(); err != nil {
			t.Fatal(err)
		}
	}
	reqs := h.requests(requestClrStatus)
	if len(reqs) != 2 || len(h.transfers) != 2 {
		t.Fatalf("expected 2 CLRSTATUS requests, got %d transfers", len(h.transfers))
	}
	if reqs[0].in || reqs[0].value != 0 || len(reqs[0].data) != 0 {
		t.Errorf("unexpected transfer %+v", reqs[0])
	}

	h.outErr = errors.New("stall")
	var terr *TransportError
	if err := c.ClearStatus(); !errors.As(err, &terr) {
		t.Errorf("expected TransportError, got %v", err)
	}
}

func TestDetach(t *testing.T) {
	h := newMockHandle()
	c, _ := newTestConn(h)

	if err := c.Detach(); err != nil {
		t.Fatal(err)
	}
	if len(h.transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(h.transfers))
	}
	dn := h.transfers[0]
	if dn.request != requestDnload || dn.value != 0 || len(dn.data) != 0 {
		t.Errorf("expected zero length DNLOAD, got %+v", dn)
	}
	if h.transfers[1].request != requestGetStatus {
		t.Errorf("expected GETSTATUS after DNLOAD")
	}
}

func TestCommandBuffers(t *testing.T) {
	if got, want := NewEraseCommand(0x08000080), []byte{0x41, 0x80, 0x00, 0x00, 0x08}; !bytes.Equal(got, want) {
		t.Errorf("erase command = % X, want % X", got, want)
	}
	if got, want := NewSetAddressCommand(FlashBase), []byte{0x21, 0x00, 0x00, 0x00, 0x08}; !bytes.Equal(got, want) {
		t.Errorf("set address command = % X, want % X", got, want)
	}
}

func TestStrings(t *testing.T) {
	if StateError.String() != "dfuERROR" {
		t.Errorf("StateError = %q", StateError.String())
	}
	if StatusErrStalledPkt.String() != "stalled an unexpected request" {
		t.Errorf("StatusErrStalledPkt = %q", StatusErrStalledPkt.String())
	}
	if State(42).String() != "invalid state 42" {
		t.Errorf("State(42) = %q", State(42).String())
	}
}
