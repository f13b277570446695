// internal/model/port.go
package model

import (
	"fmt"
	"strings"
)

// PseudoSession prefixes the subscriber ids of spying bindings. It is never a
// valid host session id.
const PseudoSession = "*"

// SpySubscriber returns the registry subscriber id of sessionID's spy
// bindings. Each spying session gets its own id under the pseudo-session
// prefix, so any number of sessions can spy one path.
func SpySubscriber(sessionID string) string {
	return PseudoSession + sessionID
}

// FrameMarker delimits the path tag wrapped around every forwarded line
const FrameMarker = '\x04'

// Parity represents the parity setting of a serial line
type Parity string

const (
	ParityNone  Parity = "none"
	ParityEven  Parity = "even"
	ParityMark  Parity = "mark"
	ParityOdd   Parity = "odd"
	ParitySpace Parity = "space"
)

// Encoding represents how device bytes are turned into text
type Encoding string

const (
	EncodingUTF8    Encoding = "utf8"
	EncodingASCII   Encoding = "ascii"
	EncodingUTF16LE Encoding = "utf16le"
	EncodingUCS2    Encoding = "ucs2"
	EncodingBase64  Encoding = "base64"
	EncodingBinary  Encoding = "binary"
	EncodingHex     Encoding = "hex"
	EncodingLatin1  Encoding = "latin1"
)

// BindingMode represents how a subscriber is attached to a port
type BindingMode int

const (
	ModeExclusive BindingMode = iota
	ModeSpy
)

func (m BindingMode) String() string {
	switch m {
	case ModeExclusive:
		return "exclusive"
	case ModeSpy:
		return "spy"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// HandleState represents the lifecycle state of a port handle
type HandleState int32

const (
	StateClosed HandleState = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s HandleState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// SerialOptions holds the line settings passed to the transport
type SerialOptions struct {
	BaudRate      int    `json:"baudRate,omitempty"`
	DataBits      int    `json:"dataBits,omitempty"`
	StopBits      int    `json:"stopBits,omitempty"`
	Parity        Parity `json:"parity,omitempty"`
	RTSCTS        bool   `json:"rtscts,omitempty"`
	XOn           bool   `json:"xon,omitempty"`
	XOff          bool   `json:"xoff,omitempty"`
	XAny          bool   `json:"xany,omitempty"`
	HighWaterMark int    `json:"highWaterMark,omitempty"`
}

// ReaderOptions controls how incoming bytes are split into lines
type ReaderOptions struct {
	Delimiter        string   `json:"delimiter,omitempty"`
	Encoding         Encoding `json:"encoding,omitempty"`
	IncludeDelimiter bool     `json:"includeDelimiter,omitempty"`
}

// PortOptions is the full configuration supplied with an open or spy request
type PortOptions struct {
	Path    string         `json:"path"`
	Options SerialOptions  `json:"options"`
	Reader  *ReaderOptions `json:"reader,omitempty"`
}

// Validate checks the options before they reach the transport
func (o *PortOptions) Validate() error {
	if o == nil {
		return NewValidationError("options are required")
	}
	if strings.TrimSpace(o.Path) == "" {
		return NewValidationError("path should be a non-empty string")
	}
	if o.Options.BaudRate < 0 {
		return NewValidationError(fmt.Sprintf("invalid baud rate: %d", o.Options.BaudRate))
	}
	switch o.Options.DataBits {
	case 0, 5, 6, 7, 8:
	default:
		return NewValidationError(fmt.Sprintf("invalid data bits: %d", o.Options.DataBits))
	}
	switch o.Options.StopBits {
	case 0, 1, 2:
	default:
		return NewValidationError(fmt.Sprintf("invalid stop bits: %d", o.Options.StopBits))
	}
	switch o.Options.Parity {
	case "", ParityNone, ParityEven, ParityMark, ParityOdd, ParitySpace:
	default:
		return NewValidationError(fmt.Sprintf("invalid parity: %q", o.Options.Parity))
	}
	if o.Reader != nil {
		switch o.Reader.Encoding {
		case "", EncodingUTF8, EncodingASCII, EncodingUTF16LE, EncodingUCS2,
			EncodingBase64, EncodingBinary, EncodingHex, EncodingLatin1:
		default:
			return NewValidationError(fmt.Sprintf("unsupported encoding: %q", o.Reader.Encoding))
		}
	}
	return nil
}

// WithDefaults returns a copy with zero fields filled from defaults
func (o *PortOptions) WithDefaults(def SerialOptions, reader ReaderOptions) *PortOptions {
	out := *o
	if out.Options.BaudRate == 0 {
		out.Options.BaudRate = def.BaudRate
	}
	if out.Options.DataBits == 0 {
		out.Options.DataBits = def.DataBits
	}
	if out.Options.StopBits == 0 {
		out.Options.StopBits = def.StopBits
	}
	if out.Options.Parity == "" {
		out.Options.Parity = def.Parity
	}
	if out.Options.HighWaterMark == 0 {
		out.Options.HighWaterMark = def.HighWaterMark
	}

	r := reader
	if o.Reader != nil {
		r = *o.Reader
		if r.Delimiter == "" {
			r.Delimiter = reader.Delimiter
		}
		if r.Encoding == "" {
			r.Encoding = reader.Encoding
		}
	}
	out.Reader = &r
	return &out
}

// IOState holds the byte counters of an open handle
type IOState struct {
	Read    int64 `json:"read"`
	Written int64 `json:"written"`
}

// PortInfo describes an enumerated port merged with its live state
type PortInfo struct {
	Path         string       `json:"path"`
	Manufacturer string       `json:"manufacturer,omitempty"`
	Product      string       `json:"product,omitempty"`
	SerialNumber string       `json:"serialNumber,omitempty"`
	VendorID     string       `json:"vendorId,omitempty"`
	ProductID    string       `json:"productId,omitempty"`
	IsUSB        bool         `json:"isUsb"`
	Open         bool         `json:"open"`
	Subscribers  int          `json:"subscribers"`
	Options      *PortOptions `json:"options,omitempty"`
	IOState      *IOState     `json:"ioState,omitempty"`
}
