package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-mux/internal/model"
	"serial-mux/internal/port"
	"serial-mux/internal/testutil"
)

const (
	usb0    = "/dev/ttyUSB0"
	usb1    = "/dev/ttyUSB1"
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	t         *testing.T
	registry  *port.Registry
	transport *testutil.FakeTransport
	host      *testutil.FakeHost
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	transport := testutil.NewFakeTransport()
	handleOpts := port.DefaultHandleOptions()
	handleOpts.PacingDelay = time.Millisecond
	registry := port.NewRegistry(transport, port.RegistryOptions{Handle: handleOpts}, zap.NewNop())
	t.Cleanup(func() { _ = registry.Close() })

	return &fixture{
		t:         t,
		registry:  registry,
		transport: transport,
		host:      testutil.NewFakeHost(),
	}
}

func (f *fixture) controller(id string) *SessionController {
	c := NewSessionController(id, f.registry, f.host, 20*time.Millisecond, zap.NewNop())
	f.t.Cleanup(func() { c.Destroy(context.Background()) })
	return c
}

func opts(path string) *model.PortOptions {
	return &model.PortOptions{Path: path, Options: model.SerialOptions{BaudRate: 9600}}
}

func line(path, row string) string {
	return "\x04" + path + "\x04: " + row + "\n"
}

func TestSessionOpenNotifiesConnected(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")

	require.NoError(t, c.Open(context.Background(), opts(usb0)))

	assert.Equal(t, []string{usb0}, c.OwnedPorts())
	assert.Equal(t, 1, f.transport.OpenCount(usb0))

	events := f.host.Events("S1")
	require.Len(t, events, 1)
	assert.Equal(t, model.EventConnected, events[0].Event)
	assert.Equal(t, usb0, events[0].Port)
	assert.Equal(t, "S1", events[0].StreamID)
}

func TestSessionOpenRejectsDuplicatesAndBadOptions(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	ctx := context.Background()

	require.NoError(t, c.Open(ctx, opts(usb0)))
	assert.ErrorIs(t, c.Open(ctx, opts(usb0)), model.ErrDuplicateBinding)
	assert.ErrorIs(t, c.Open(ctx, nil), model.ErrValidation)
	assert.ErrorIs(t, c.Open(ctx, &model.PortOptions{Path: "  "}), model.ErrValidation)
	assert.Equal(t, 1, f.transport.OpenCount(usb0))
}

func TestSessionOpenConflictsWithOtherExclusiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.controller("S1").Open(ctx, opts(usb0)))

	s2 := f.controller("S2")
	assert.ErrorIs(t, s2.Open(ctx, opts(usb0)), model.ErrDeviceOpen)
	assert.Empty(t, s2.OwnedPorts())
	assert.Empty(t, f.host.Events("S2"))
}

func TestSessionForwardsTaggedLines(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	require.NoError(t, c.Open(context.Background(), opts(usb0)))

	f.transport.Stream(usb0).Emit("login:\r\n")

	assert.Eventually(t, func() bool {
		return f.host.Stream("S1") == line(usb0, "login:")
	}, waitFor, tick)
}

func TestSessionClose(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	ctx := context.Background()

	assert.ErrorIs(t, c.Close(ctx, usb0), model.ErrUnknownBinding)

	require.NoError(t, c.Open(ctx, opts(usb0)))
	require.NoError(t, c.Close(ctx, usb0))

	assert.Empty(t, c.OwnedPorts())
	assert.False(t, f.registry.IsOpen(usb0))
	assert.True(t, f.transport.Stream(usb0).Closed())
	assert.ErrorIs(t, c.Close(ctx, usb0), model.ErrUnknownBinding)
}

func TestSessionDisconnectUnbindsOnce(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	ctx := context.Background()
	require.NoError(t, c.Open(ctx, opts(usb0)))

	f.transport.Stream(usb0).HangUp()

	require.Eventually(t, func() bool {
		return len(f.host.EventsOfType("S1", model.EventDisconnected)) == 1
	}, waitFor, tick)
	assert.Empty(t, c.OwnedPorts())

	// the async unbind already happened, so an explicit close finds nothing
	assert.ErrorIs(t, c.Close(ctx, usb0), model.ErrUnknownBinding)
	assert.Len(t, f.host.EventsOfType("S1", model.EventDisconnected), 1)

	// the path can be opened again
	require.NoError(t, c.Open(ctx, opts(usb0)))
	assert.Equal(t, 2, f.transport.OpenCount(usb0))
}

func TestSessionErrorNotifiesHost(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	require.NoError(t, c.Open(context.Background(), opts(usb0)))

	f.transport.Stream(usb0).FailRead(errors.New("parity error"))

	require.Eventually(t, func() bool {
		return len(f.host.EventsOfType("S1", model.EventError)) == 1
	}, waitFor, tick)

	event := f.host.EventsOfType("S1", model.EventError)[0]
	assert.Equal(t, usb0, event.Port)
	assert.Contains(t, event.Error, "parity error")
	assert.Empty(t, c.OwnedPorts())
}

func TestSessionSend(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, usb0, ""))
	assert.Equal(t, "\n", f.host.Stream("S1"))

	assert.ErrorIs(t, c.Send(ctx, usb0, "help"), model.ErrUnknownBinding)

	require.NoError(t, c.Open(ctx, opts(usb0)))
	require.NoError(t, c.Send(ctx, usb0, "help"))
	assert.Equal(t, "help\n\r", f.transport.Stream(usb0).Written())
}

func TestSessionSpyReportsLoad(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	ctx := context.Background()

	require.NoError(t, c.SpyStart(ctx, []*model.PortOptions{opts(usb0), opts(usb1)}))
	assert.Equal(t, []string{usb0, usb1}, c.SpiedPorts())
	assert.Equal(t, 1, f.registry.SubscriberCount(usb0))
	assert.Equal(t, 1, f.registry.SubscriberCount(usb1))

	f.transport.Stream(usb0).Emit("abc\n")

	want := int64(len(line(usb0, "abc")))
	assert.Eventually(t, func() bool {
		for _, e := range f.host.EventsOfType("S1", model.EventSpyState) {
			if e.Load[usb0] == want {
				return true
			}
		}
		return false
	}, waitFor, tick)

	// spied data is measured, not forwarded
	assert.Empty(t, f.host.Stream("S1"))
}

func TestSessionSpyStartIsIdempotentPerPath(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	ctx := context.Background()

	require.NoError(t, c.SpyStart(ctx, []*model.PortOptions{opts(usb0)}))
	require.NoError(t, c.SpyStart(ctx, []*model.PortOptions{opts(usb0)}))
	assert.Equal(t, 1, f.registry.SubscriberCount(usb0))
}

func TestSessionSpyStartCollectsFailures(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	f.transport.FailOpen(usb1, errors.New("busy"))

	err := c.SpyStart(context.Background(), []*model.PortOptions{opts(usb1), opts(usb0), nil})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDeviceOpen)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, []string{usb0}, c.SpiedPorts())
}

func TestSessionSpyStop(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	ctx := context.Background()

	require.NoError(t, c.SpyStart(ctx, []*model.PortOptions{opts(usb0)}))
	require.NoError(t, c.SpyStop(ctx, []*model.PortOptions{opts(usb0), opts(usb1)}))

	assert.Empty(t, c.SpiedPorts())
	assert.False(t, f.registry.IsOpen(usb0))
	assert.Empty(t, c.Load())
}

func TestSessionSpyDisconnectIsNotForwarded(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	require.NoError(t, c.SpyStart(context.Background(), []*model.PortOptions{opts(usb0)}))

	f.transport.Stream(usb0).HangUp()

	require.Eventually(t, func() bool { return len(c.SpiedPorts()) == 0 }, waitFor, tick)
	assert.Empty(t, f.host.EventsOfType("S1", model.EventDisconnected))
}

func TestSessionSpyErrorIsForwarded(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	require.NoError(t, c.SpyStart(context.Background(), []*model.PortOptions{opts(usb0)}))

	f.transport.Stream(usb0).FailRead(errors.New("overrun"))

	require.Eventually(t, func() bool {
		return len(f.host.EventsOfType("S1", model.EventError)) == 1
	}, waitFor, tick)
	assert.Empty(t, c.SpiedPorts())
}

func TestSessionExclusiveAndSpyShareOneDevice(t *testing.T) {
	f := newFixture(t)
	s1 := f.controller("S1")
	viewer := f.controller("S2")
	ctx := context.Background()

	require.NoError(t, s1.Open(ctx, opts(usb0)))
	assert.Equal(t, 1, f.registry.SubscriberCount(usb0))

	require.NoError(t, viewer.SpyStart(ctx, []*model.PortOptions{opts(usb0)}))
	assert.Equal(t, 2, f.registry.SubscriberCount(usb0))
	assert.Equal(t, 1, f.transport.OpenCount(usb0))

	require.NoError(t, s1.Close(ctx, usb0))
	assert.Equal(t, 1, f.registry.SubscriberCount(usb0))
	assert.True(t, f.registry.IsOpen(usb0))

	require.NoError(t, viewer.SpyStop(ctx, []*model.PortOptions{opts(usb0)}))
	assert.Zero(t, f.registry.SubscriberCount(usb0))
	assert.False(t, f.registry.IsOpen(usb0))
	assert.Equal(t, 1, f.transport.OpenCount(usb0))
}

func TestSessionsSpySamePath(t *testing.T) {
	f := newFixture(t)
	s1 := f.controller("S1")
	s2 := f.controller("S2")
	ctx := context.Background()

	require.NoError(t, s1.SpyStart(ctx, []*model.PortOptions{opts(usb0)}))
	require.NoError(t, s2.SpyStart(ctx, []*model.PortOptions{opts(usb0)}))
	assert.Equal(t, []string{usb0}, s2.SpiedPorts())
	assert.Equal(t, 2, f.registry.SubscriberCount(usb0))
	assert.Equal(t, 1, f.transport.OpenCount(usb0))

	f.transport.Stream(usb0).Emit("abc\n")

	want := int64(len(line(usb0, "abc")))
	for _, id := range []string{"S1", "S2"} {
		assert.Eventually(t, func() bool {
			for _, e := range f.host.EventsOfType(id, model.EventSpyState) {
				if e.Load[usb0] == want {
					return true
				}
			}
			return false
		}, waitFor, tick, "session %s", id)
	}

	require.NoError(t, s1.SpyStop(ctx, []*model.PortOptions{opts(usb0)}))
	assert.Equal(t, 1, f.registry.SubscriberCount(usb0))
	assert.True(t, f.registry.IsOpen(usb0))
	assert.Equal(t, []string{usb0}, s2.SpiedPorts())

	require.NoError(t, s2.SpyStop(ctx, []*model.PortOptions{opts(usb0)}))
	assert.False(t, f.registry.IsOpen(usb0))
}

func TestSessionDestroyReleasesEverything(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	ctx := context.Background()

	require.NoError(t, c.Open(ctx, opts(usb0)))
	require.NoError(t, c.SpyStart(ctx, []*model.PortOptions{opts(usb1)}))

	c.Destroy(ctx)
	c.Destroy(ctx)

	assert.False(t, f.registry.IsOpen(usb0))
	assert.False(t, f.registry.IsOpen(usb1))
	assert.Empty(t, c.OwnedPorts())
	assert.Empty(t, c.SpiedPorts())
	assert.ErrorIs(t, c.Open(ctx, opts(usb0)), model.ErrNotFound)
}

func TestSessionDestroyDuringOpenReleasesPort(t *testing.T) {
	f := newFixture(t)
	c := f.controller("S1")
	ctx := context.Background()
	release := f.transport.Gate(usb0)

	opened := make(chan error, 1)
	go func() { opened <- c.Open(ctx, opts(usb0)) }()
	require.Eventually(t, func() bool { return f.transport.OpenCount(usb0) == 1 }, waitFor, tick)

	c.Destroy(ctx)
	release()

	assert.ErrorIs(t, <-opened, model.ErrNotFound)
	assert.False(t, f.registry.IsOpen(usb0))
	assert.Empty(t, f.host.EventsOfType("S1", model.EventConnected))
}
