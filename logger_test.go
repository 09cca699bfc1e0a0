package stm32dfu

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Debugf(string, ...interface{}) {}
func (l *recordingLogger) Infof(string, ...interface{})  {}
func (l *recordingLogger) Warnf(format string, args ...interface{}) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func TestSetLogger(t *testing.T) {
	l := &recordingLogger{}
	SetLogger(l)
	defer SetLogger(&nullLogger{})

	h := newMockHandle()
	h.claimErr = errors.New("busy")
	h.closeErr = errors.New("gone")
	u := newTestUpdater(&mockTransport{handle: h}, NopObserver{})

	if _, err := u.Run([]byte{1}, 1024, 4); err == nil {
		t.Fatal("expected error")
	}
	if len(l.warnings) != 1 || !strings.Contains(l.warnings[0], "gone") {
		t.Errorf("warnings = %q", l.warnings)
	}
}
