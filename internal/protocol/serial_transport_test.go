//go:build linux

package protocol

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"serial-mux/internal/model"
)

func openPair(t *testing.T) (master *os.File, stream Stream) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	transport := NewSerialTransport(zap.NewNop(), nil)
	stream, err = transport.Open(slave.Name(), &model.PortOptions{
		Path:    slave.Name(),
		Options: model.SerialOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: model.ParityNone},
	})
	require.NoError(t, err)
	t.Cleanup(func() { stream.Close() })
	return master, stream
}

func TestSerialStreamReadWrite(t *testing.T) {
	master, stream := openPair(t)

	_, err := master.Write([]byte("boot ok\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "boot ok\n", string(buf[:n]))

	_, err = stream.Write([]byte("ls\n"))
	require.NoError(t, err)
	require.NoError(t, stream.Drain())

	n, err = master.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ls\n", string(buf[:n]))
}

func TestSerialStreamCloseUnblocksRead(t *testing.T) {
	_, stream := openPair(t)

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, err := stream.Read(buf)
		readErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())

	select {
	case err := <-readErr:
		assert.True(t, errors.Is(err, io.EOF), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after close")
	}
}

func TestSerialTransportOpenMissingDevice(t *testing.T) {
	transport := NewSerialTransport(zap.NewNop(), nil)
	_, err := transport.Open("/dev/does-not-exist", &model.PortOptions{
		Path:    "/dev/does-not-exist",
		Options: model.SerialOptions{BaudRate: 9600},
	})
	assert.Error(t, err)
}

func TestModeFromOptions(t *testing.T) {
	mode, err := ModeFromOptions(&model.SerialOptions{BaudRate: 57600, DataBits: 7, StopBits: 2, Parity: model.ParityEven})
	require.NoError(t, err)
	assert.Equal(t, 57600, mode.BaudRate)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	_, err = ModeFromOptions(&model.SerialOptions{StopBits: 3})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = ModeFromOptions(&model.SerialOptions{Parity: "weird"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestFlowControlIsRejected(t *testing.T) {
	tests := []struct {
		name string
		opts model.SerialOptions
		flag string
	}{
		{"rtscts", model.SerialOptions{BaudRate: 9600, RTSCTS: true}, "rtscts"},
		{"xon", model.SerialOptions{BaudRate: 9600, XOn: true}, "xon"},
		{"xoff", model.SerialOptions{BaudRate: 9600, XOff: true}, "xoff"},
		{"xany", model.SerialOptions{BaudRate: 9600, XAny: true}, "xany"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ModeFromOptions(&tt.opts)
			require.ErrorIs(t, err, model.ErrValidation)
			assert.Contains(t, err.Error(), tt.flag)
		})
	}

	master, slave, err := pty.Open()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	transport := NewSerialTransport(zap.NewNop(), nil)
	_, err = transport.Open(slave.Name(), &model.PortOptions{
		Path:    slave.Name(),
		Options: model.SerialOptions{BaudRate: 9600, RTSCTS: true},
	})
	assert.ErrorIs(t, err, model.ErrValidation)
}
