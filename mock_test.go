package stm32dfu

import (
	"time"
)

type transfer struct {
	in      bool
	request uint8
	value   uint16
	index   uint16
	data    []byte
}

// mockHandle simulates the ST bootloader. GET_STATUS responses are taken from
// statuses while any are queued; after that odd requests report dfuDNBUSY with a
// 10ms poll timeout and even ones dfuDNLOAD-IDLE.
type mockHandle struct {
	transfers []transfer
	statuses  [][]byte

	// faultAt makes the n-th GET_STATUS (1-based) report an erase error.
	faultAt     int
	statusCount int

	outErr    error
	inErr     error
	configErr error
	claimErr  error
	closeErr  error

	config int
	iface  int
	closed int
}

func newMockHandle() *mockHandle {
	return &mockHandle{config: -1, iface: -1}
}

func (h *mockHandle) SelectConfiguration(n int) error {
	h.config = n
	return h.configErr
}

func (h *mockHandle) ClaimInterface(n int) error {
	h.iface = n
	return h.claimErr
}

func (h *mockHandle) ControlOut(request uint8, value, index uint16, data []byte) error {
	h.transfers = append(h.transfers, transfer{
		request: request,
		value:   value,
		index:   index,
		data:    append([]byte(nil), data...),
	})
	return h.outErr
}

func (h *mockHandle) ControlIn(request uint8, value, index uint16, length int) ([]byte, error) {
	h.transfers = append(h.transfers, transfer{in: true, request: request, value: value, index: index})
	if h.inErr != nil {
		return nil, h.inErr
	}
	h.statusCount++
	if h.faultAt == h.statusCount {
		return []byte{byte(StatusErrErase), 0, 0, 0, byte(StateError), 0}, nil
	}
	if len(h.statuses) > 0 {
		s := h.statuses[0]
		h.statuses = h.statuses[1:]
		return s, nil
	}
	if h.statusCount%2 == 1 {
		return []byte{0, 10, 0, 0, byte(StateDnbusy), 0}, nil
	}
	return []byte{0, 0, 0, 0, byte(StateDnloadIdle), 0}, nil
}

func (h *mockHandle) Close() error {
	h.closed++
	return h.closeErr
}

// requests returns the transfers with the given request code.
func (h *mockHandle) requests(request uint8) []transfer {
	var out []transfer
	for _, t := range h.transfers {
		if t.request == request {
			out = append(out, t)
		}
	}
	return out
}

type mockTransport struct {
	handle  *mockHandle
	openErr error
	opened  []Filter
}

func (t *mockTransport) Open(filter Filter) (Handle, error) {
	t.opened = append(t.opened, filter)
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.handle, nil
}

type sleepRecorder struct {
	slept []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration) {
	r.slept = append(r.slept, d)
}

func newTestConn(h *mockHandle, opts ...ConnOption) (*Conn, *sleepRecorder) {
	rec := &sleepRecorder{}
	opts = append([]ConnOption{WithSleep(rec.sleep)}, opts...)
	return NewConn(h, opts...), rec
}
