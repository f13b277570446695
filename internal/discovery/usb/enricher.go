// internal/discovery/usb/enricher.go - Port listing enrichment
package usb

import (
	"context"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"serial-mux/internal/model"
)

type usbKey struct {
	vendor  gousb.ID
	product gousb.ID
}

// Enricher fills missing manufacturer, product and serial details of
// enumerated USB ports from the bus descriptors and the device database
type Enricher struct {
	db     *DeviceDatabase
	source DescriptorSource
	logger *zap.Logger
}

// NewEnricher creates a new enricher. source may be nil, in which case only
// the device database is consulted.
func NewEnricher(source DescriptorSource, logger *zap.Logger) *Enricher {
	return &Enricher{
		db:     NewDeviceDatabase(),
		source: source,
		logger: logger.With(zap.String("component", "usb-enricher")),
	}
}

// Enrich updates ports in place. Failures are logged and leave the ports as
// they were.
func (e *Enricher) Enrich(ctx context.Context, ports []*model.PortInfo) {
	targets := make(map[*model.PortInfo]usbKey)
	wanted := make(map[usbKey]bool)

	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		vendor, err := ParseID(p.VendorID)
		if err != nil {
			continue
		}
		product, err := ParseID(p.ProductID)
		if err != nil {
			continue
		}
		key := usbKey{vendor: vendor, product: product}
		targets[p] = key
		if incomplete(p) {
			wanted[key] = true
		}
	}
	if len(targets) == 0 {
		return
	}

	if e.source != nil && len(wanted) > 0 {
		e.applyDescriptors(ctx, targets, wanted)
	}

	for p, key := range targets {
		vendor, product, ok := e.db.Lookup(key.vendor, key.product)
		if !ok {
			continue
		}
		if p.Manufacturer == "" {
			p.Manufacturer = vendor
		}
		if p.Product == "" {
			p.Product = product
		}
	}
}

func (e *Enricher) applyDescriptors(ctx context.Context, targets map[*model.PortInfo]usbKey, wanted map[usbKey]bool) {
	descriptors, err := e.source.Descriptors(ctx, func(vendor, product gousb.ID) bool {
		return wanted[usbKey{vendor: vendor, product: product}]
	})
	if err != nil {
		e.logger.Warn("Failed to read USB descriptors", zap.Error(err))
		if len(descriptors) == 0 {
			return
		}
	}

	byKey := make(map[usbKey][]*Descriptor)
	for _, d := range descriptors {
		key := usbKey{vendor: d.Vendor, product: d.Product}
		byKey[key] = append(byKey[key], d)
	}

	for p, key := range targets {
		if !incomplete(p) {
			continue
		}
		d := pick(p, byKey[key])
		if d == nil {
			continue
		}
		if p.Manufacturer == "" {
			p.Manufacturer = d.Manufacturer
		}
		if p.Product == "" {
			p.Product = d.ProductName
		}
		if p.SerialNumber == "" {
			p.SerialNumber = d.SerialNumber
		}
	}
}

// pick selects the descriptor of p. Several devices with the same ids are
// told apart by serial number only.
func pick(p *model.PortInfo, candidates []*Descriptor) *Descriptor {
	if p.SerialNumber != "" {
		for _, d := range candidates {
			if d.SerialNumber == p.SerialNumber {
				return d
			}
		}
		return nil
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	return nil
}

func incomplete(p *model.PortInfo) bool {
	return p.Manufacturer == "" || p.Product == "" || p.SerialNumber == ""
}
