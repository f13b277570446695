// internal/protocol/serial_transport.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"serial-mux/internal/model"
)

// SerialTransport implements Transport on top of go.bug.st/serial
type SerialTransport struct {
	logger   *zap.Logger
	enricher PortEnricher
}

// NewSerialTransport creates a transport for the host's serial devices.
// enricher may be nil.
func NewSerialTransport(logger *zap.Logger, enricher PortEnricher) *SerialTransport {
	return &SerialTransport{
		logger:   logger.With(zap.String("protocol", "serial")),
		enricher: enricher,
	}
}

// Open opens the serial device at path
func (t *SerialTransport) Open(path string, options *model.PortOptions) (Stream, error) {
	mode, err := ModeFromOptions(&options.Options)
	if err != nil {
		return nil, err
	}

	t.logger.Info("Opening serial port",
		zap.String("port", path),
		zap.Int("baud_rate", mode.BaudRate),
	)

	port, err := serial.Open(path, mode)
	if err != nil {
		t.logger.Error("Failed to open serial port", zap.String("port", path), zap.Error(err))
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	return &serialStream{port: port}, nil
}

// List enumerates the serial devices present on the host
func (t *SerialTransport) List(ctx context.Context) ([]*model.PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]*model.PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, &model.PortInfo{
			Path:         d.Name,
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
			VendorID:     d.VID,
			ProductID:    d.PID,
			IsUSB:        d.IsUSB,
		})
	}

	if t.enricher != nil {
		t.enricher.Enrich(ctx, ports)
	}

	t.logger.Debug("Serial ports enumerated", zap.Int("count", len(ports)))
	return ports, nil
}

// ModeFromOptions converts line settings into a serial.Mode. The serial
// driver cannot enable hardware or software flow control, so asking for it
// is a validation error.
func ModeFromOptions(opts *model.SerialOptions) (*serial.Mode, error) {
	if flags := flowControlFlags(opts); len(flags) > 0 {
		return nil, model.NewValidationError(fmt.Sprintf("flow control is not supported: %s", strings.Join(flags, ", ")))
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	switch opts.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, model.NewValidationError(fmt.Sprintf("invalid stop bits: %d", opts.StopBits))
	}

	switch opts.Parity {
	case "", model.ParityNone:
		mode.Parity = serial.NoParity
	case model.ParityOdd:
		mode.Parity = serial.OddParity
	case model.ParityEven:
		mode.Parity = serial.EvenParity
	case model.ParityMark:
		mode.Parity = serial.MarkParity
	case model.ParitySpace:
		mode.Parity = serial.SpaceParity
	default:
		return nil, model.NewValidationError(fmt.Sprintf("invalid parity: %q", opts.Parity))
	}

	return mode, nil
}

// serialStream adapts serial.Port to Stream
type serialStream struct {
	port      serial.Port
	closeOnce sync.Once
	closeErr  error
}

// Read blocks until data arrives. A closed or unplugged port reads as io.EOF.
func (s *serialStream) Read(p []byte) (int, error) {
	for {
		n, err := s.port.Read(p)
		if err != nil {
			var portErr *serial.PortError
			if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
				return n, io.EOF
			}
			return n, err
		}
		// No read timeout is configured, so an empty read only happens on a spurious wakeup
		if n > 0 {
			return n, nil
		}
	}
}

func (s *serialStream) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialStream) Drain() error {
	return s.port.Drain()
}

func (s *serialStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}

func flowControlFlags(opts *model.SerialOptions) []string {
	var flags []string
	if opts.RTSCTS {
		flags = append(flags, "rtscts")
	}
	if opts.XOn {
		flags = append(flags, "xon")
	}
	if opts.XOff {
		flags = append(flags, "xoff")
	}
	if opts.XAny {
		flags = append(flags, "xany")
	}
	return flags
}
