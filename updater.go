package stm32dfu

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// UpdateComplete is the result of a successful Updater.Run.
const UpdateComplete = "Update Complete"

// Stage is a step of the update sequence.
type Stage string

// Update stages, in the order they are entered. StageFailed can be entered from
// any stage before StageComplete.
const (
	StageIdle          Stage = "idle"
	StageConnecting    Stage = "connecting"
	StageErasing       Stage = "erasing"
	StageProgramming   Stage = "programming"
	StageDetaching     Stage = "detaching"
	StageDisconnecting Stage = "disconnecting"
	StageComplete      Stage = "complete"
	StageFailed        Stage = "failed"
)

const (
	eventConnect    = "connect"
	eventErase      = "erase"
	eventProgram    = "program"
	eventDetach     = "detach"
	eventDisconnect = "disconnect"
	eventComplete   = "complete"
	eventFail       = "fail"
)

// USB configuration and interface used by the ST bootloader.
const (
	bootloaderConfig    = 1
	bootloaderInterface = 0
)

// Observer is notified as an update progresses. Calls are made synchronously
// from Run and must return quickly.
type Observer interface {
	OnStage(stage Stage)
	OnProgress(percent float64)
	OnDisconnect()
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) OnStage(Stage)      {}
func (NopObserver) OnProgress(float64) {}
func (NopObserver) OnDisconnect()      {}

// Updater runs the full update sequence against a device reached through a
// Transport. Only one update runs at a time.
type Updater struct {
	transport Transport
	observer  Observer
	filter    Filter
	connOpts  []ConnOption

	// mu is held for the whole of Run.
	mu sync.Mutex

	geometryMu sync.Mutex
	geometry   Geometry
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithObserver sets the observer notified of stage changes, progress and
// disconnection.
func WithObserver(o Observer) UpdaterOption {
	return func(u *Updater) {
		u.observer = o
	}
}

// WithFilter selects the device to open. The default is STBootloader.
func WithFilter(f Filter) UpdaterOption {
	return func(u *Updater) {
		u.filter = f
	}
}

// WithConnOptions sets the options of the Conn created after connecting.
func WithConnOptions(opts ...ConnOption) UpdaterOption {
	return func(u *Updater) {
		u.connOpts = append(u.connOpts, opts...)
	}
}

// NewUpdater creates an Updater that opens devices with the provided transport.
func NewUpdater(transport Transport, opts ...UpdaterOption) *Updater {
	u := &Updater{
		transport: transport,
		observer:  NopObserver{},
		filter:    STBootloader,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// SetFlashAndPageSizes validates and stores the flash geometry used by the next
// erase. See NewGeometry for the accepted formats.
func (u *Updater) SetFlashAndPageSizes(flashSize, pageSize interface{}) error {
	_, err := u.setGeometry(flashSize, pageSize)
	return err
}

func (u *Updater) setGeometry(flashSize, pageSize interface{}) (Geometry, error) {
	g, err := NewGeometry(flashSize, pageSize)
	if err != nil {
		return Geometry{}, err
	}
	u.geometryMu.Lock()
	u.geometry = g
	u.geometryMu.Unlock()
	return g, nil
}

// Geometry returns the geometry stored by the last successful
// SetFlashAndPageSizes.
func (u *Updater) Geometry() Geometry {
	u.geometryMu.Lock()
	defer u.geometryMu.Unlock()
	return u.geometry
}

// Run erases the device, programs image and restarts the device into it. Once a
// device has been opened it is always closed before Run returns. Errors are
// returned as a StageError naming the stage that failed.
func (u *Updater) Run(image []byte, flashSize, pageSize interface{}) (string, error) {
	if !u.mu.TryLock() {
		return "", ErrBusy
	}
	defer u.mu.Unlock()

	s := u.newSession(image)
	g, err := u.setGeometry(flashSize, pageSize)
	if err != nil {
		return "", s.fail(err)
	}
	s.geometry = g

	steps := []struct {
		event string
		run   func() error
	}{
		{eventConnect, s.connect},
		{eventErase, s.erase},
		{eventProgram, s.program},
		{eventDetach, s.detach},
		{eventDisconnect, s.disconnect},
		{eventComplete, nil},
	}
	for _, step := range steps {
		if err := s.fsm.Event(context.Background(), step.event); err != nil {
			return "", s.fail(err)
		}
		if step.run == nil {
			continue
		}
		if err := step.run(); err != nil {
			return "", s.fail(err)
		}
	}
	return UpdateComplete, nil
}

// session holds the state of a single Run.
type session struct {
	u        *Updater
	fsm      *fsm.FSM
	image    []byte
	geometry Geometry
	handle   Handle
	conn     *Conn
}

func (u *Updater) newSession(image []byte) *session {
	s := &session{u: u, image: image}

	running := []string{
		string(StageIdle),
		string(StageConnecting),
		string(StageErasing),
		string(StageProgramming),
		string(StageDetaching),
		string(StageDisconnecting),
	}
	events := fsm.Events{
		{Name: eventConnect, Src: []string{string(StageIdle)}, Dst: string(StageConnecting)},
		{Name: eventErase, Src: []string{string(StageConnecting)}, Dst: string(StageErasing)},
		{Name: eventProgram, Src: []string{string(StageErasing)}, Dst: string(StageProgramming)},
		{Name: eventDetach, Src: []string{string(StageProgramming)}, Dst: string(StageDetaching)},
		{Name: eventDisconnect, Src: []string{string(StageDetaching)}, Dst: string(StageDisconnecting)},
		{Name: eventComplete, Src: []string{string(StageDisconnecting)}, Dst: string(StageComplete)},
		{Name: eventFail, Src: running, Dst: string(StageFailed)},
	}
	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			pkgLog.Debugf("entering %s", e.Dst)
			u.observer.OnStage(Stage(e.Dst))
		},
	}

	s.fsm = fsm.NewFSM(string(StageIdle), events, callbacks)
	return s
}

func (s *session) stage() Stage {
	return Stage(s.fsm.Current())
}

func (s *session) connect() error {
	h, err := s.u.transport.Open(s.u.filter)
	if err != nil {
		return transportErr("open "+s.u.filter.String(), err)
	}
	s.handle = h

	if err := h.SelectConfiguration(bootloaderConfig); err != nil {
		return transportErr("select configuration", err)
	}
	if err := h.ClaimInterface(bootloaderInterface); err != nil {
		return transportErr("claim interface", err)
	}
	s.conn = NewConn(h, s.u.connOpts...)
	return s.conn.ClearStatus()
}

func (s *session) erase() error {
	return s.conn.Erase(s.geometry, s.u.observer.OnProgress)
}

func (s *session) program() error {
	return s.conn.Program(s.image, s.geometry, s.u.observer.OnProgress)
}

func (s *session) detach() error {
	return s.conn.Detach()
}

// disconnect releases the handle if one is open. The handle is forgotten before
// it is closed so that it is never closed twice.
func (s *session) disconnect() error {
	h := s.handle
	if h == nil {
		return nil
	}
	s.handle = nil
	s.conn = nil

	err := h.Close()
	s.u.observer.OnDisconnect()
	return transportErr("close", err)
}

// fail closes the device if it is still open and moves the session to
// StageFailed, returning err tagged with the stage in which it occurred.
func (s *session) fail(err error) error {
	stage := s.stage()
	if cerr := s.disconnect(); cerr != nil {
		pkgLog.Warnf("disconnect after failure: %v", cerr)
	}
	if ferr := s.fsm.Event(context.Background(), eventFail); ferr != nil {
		pkgLog.Warnf("failed to enter %s: %v", StageFailed, ferr)
	}
	return &StageError{Stage: stage, Err: err}
}
