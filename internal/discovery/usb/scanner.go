// internal/discovery/usb/scanner.go - USB descriptor scanner
package usb

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// Descriptor holds the identity of one USB device as read from the bus
type Descriptor struct {
	Vendor       gousb.ID
	Product      gousb.ID
	Manufacturer string
	ProductName  string
	SerialNumber string
	Bus          int
	Address      int
}

// DescriptorSource enumerates USB devices whose ids satisfy match
type DescriptorSource interface {
	Descriptors(ctx context.Context, match func(vendor, product gousb.ID) bool) ([]*Descriptor, error)
}

// Config for USB scanner
type Config struct {
	EnableDebug bool `json:"enable_debug"`
}

// Scanner reads device descriptors through libusb
type Scanner struct {
	logger *zap.Logger
	config *Config
}

// NewScanner creates a new USB scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	return &Scanner{
		logger: logger.With(zap.String("scanner", "usb")),
		config: config,
	}
}

// Descriptors opens every matching device, reads its string descriptors and
// closes it again
func (s *Scanner) Descriptors(ctx context.Context, match func(vendor, product gousb.ID) bool) (out []*Descriptor, err error) {
	// libusb initialisation failures surface as panics
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("usb subsystem not accessible: %v", r)
		}
	}()

	usbCtx := gousb.NewContext()
	defer func() {
		if cerr := usbCtx.Close(); cerr != nil {
			s.logger.Warn("Failed to close USB context", zap.Error(cerr))
		}
	}()

	debugLevel := 0
	if s.config.EnableDebug {
		debugLevel = 3
	}
	usbCtx.Debug(debugLevel)

	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return match(desc.Vendor, desc.Product)
	})
	defer s.closeAllDevices(devices)
	if err != nil {
		if len(devices) == 0 {
			return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
		}
		s.logger.Warn("Some USB devices could not be opened", zap.Error(err))
	}

	s.logger.Debug("Found USB devices to examine", zap.Int("device_count", len(devices)))

	for _, device := range devices {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, s.describe(device))
	}
	return out, nil
}

func (s *Scanner) describe(device *gousb.Device) *Descriptor {
	desc := device.Desc
	d := &Descriptor{
		Vendor:  desc.Vendor,
		Product: desc.Product,
		Bus:     desc.Bus,
		Address: desc.Address,
	}
	d.Manufacturer = s.readString(device, "manufacturer", device.Manufacturer)
	d.ProductName = s.readString(device, "product", device.Product)
	d.SerialNumber = s.readString(device, "serial_number", device.SerialNumber)
	return d
}

func (s *Scanner) readString(device *gousb.Device, name string, read func() (string, error)) string {
	str, err := read()
	if err != nil {
		s.logger.Debug("Failed to get string descriptor",
			zap.String("descriptor", name),
			zap.String("vendor_id", fmt.Sprintf("0x%04X", device.Desc.Vendor)),
			zap.String("product_id", fmt.Sprintf("0x%04X", device.Desc.Product)),
			zap.Error(err),
		)
		return ""
	}
	return strings.TrimSpace(str)
}

// closeAllDevices safely closes all opened USB devices
func (s *Scanner) closeAllDevices(devices []*gousb.Device) {
	for i, device := range devices {
		if device == nil {
			continue
		}
		if err := device.Close(); err != nil {
			s.logger.Warn("Failed to close USB device",
				zap.Int("device_index", i),
				zap.Error(err),
			)
		}
	}
}
