// Package notify abstracts the host notification capability. The
// evaluator only ever talks to the Sink interface; whether anything is
// actually displayed depends on the platform and the permission state,
// and a missing capability degrades to a silent no-op, never an error.
package notify

import (
	"context"
	"os/exec"
	"strconv"
	"sync"
	"time"

	appLog "chimecal/internal/log"
)

// Permission is the sink's capability state.
type Permission string

const (
	PermissionUnsupported Permission = "unsupported"
	PermissionDefault     Permission = "default"
	PermissionDenied      Permission = "denied"
	PermissionGranted     Permission = "granted"
)

// DismissAfter is how long a displayed notification stays up before
// auto-dismissing.
const DismissAfter = 5 * time.Second

// Sink displays user-facing notifications. Notify only has an
// observable effect in the granted state; in every other state it
// must be a silent no-op.
type Sink interface {
	PermissionState() Permission
	RequestPermission(ctx context.Context) Permission
	Notify(title, body string)
}

// DesktopSink shells out to notify-send, the freedesktop notification
// client. The capability is unsupported when the binary is not on
// PATH. From the default state, RequestPermission settles to granted
// or denied according to the allow flag (typically from config); it
// never re-prompts a settled state.
type DesktopSink struct {
	mu    sync.Mutex
	state Permission
	allow bool

	// run is swapped in tests to avoid spawning processes.
	run func(ctx context.Context, name string, args ...string) error
}

// NewDesktopSink probes for the notify-send binary and returns a sink
// in the unsupported or default state. allow decides how a later
// permission request resolves.
func NewDesktopSink(allow bool) *DesktopSink {
	state := PermissionDefault
	if _, err := exec.LookPath("notify-send"); err != nil {
		state = PermissionUnsupported
	}
	return &DesktopSink{
		state: state,
		allow: allow,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

func (d *DesktopSink) PermissionState() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// RequestPermission resolves the default state to granted or denied and
// returns the resulting state. Unsupported, denied, and granted are
// already settled and are returned unchanged.
func (d *DesktopSink) RequestPermission(_ context.Context) Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != PermissionDefault {
		return d.state
	}
	if d.allow {
		d.state = PermissionGranted
	} else {
		d.state = PermissionDenied
	}
	appLog.Info("notification permission resolved", "state", string(d.state))
	return d.state
}

// Notify displays a notification that auto-dismisses after
// DismissAfter. Outside the granted state, and on any execution error,
// it does nothing observable. The command runs on its own goroutine so
// a hung display server never stalls the caller's tick.
func (d *DesktopSink) Notify(title, body string) {
	d.mu.Lock()
	state := d.state
	run := d.run
	d.mu.Unlock()

	if state != PermissionGranted {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		expireMs := strconv.Itoa(int(DismissAfter / time.Millisecond))
		if err := run(ctx, "notify-send", "-t", expireMs, "-a", "chimecal", title, body); err != nil {
			// Display failure is not the evaluator's problem.
			appLog.Error("notify-send failed", err, "title", title)
		}
	}()
}

// MockSink records notifications instead of displaying them. Used for
// development runs and tests.
type MockSink struct {
	mu       sync.Mutex
	state    Permission
	allow    bool
	Messages []string
}

// NewMockSink starts in the default state; allow controls how
// RequestPermission resolves.
func NewMockSink(allow bool) *MockSink {
	return &MockSink{state: PermissionDefault, allow: allow}
}

func (m *MockSink) PermissionState() Permission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockSink) RequestPermission(_ context.Context) Permission {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != PermissionDefault {
		return m.state
	}
	if m.allow {
		m.state = PermissionGranted
	} else {
		m.state = PermissionDenied
	}
	return m.state
}

func (m *MockSink) Notify(title, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != PermissionGranted {
		return
	}
	m.Messages = append(m.Messages, title+": "+body)
}

// Sent returns a copy of the recorded messages.
func (m *MockSink) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Messages...)
}
