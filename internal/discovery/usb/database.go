// internal/discovery/usb/database.go - USB serial bridge database
package usb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
)

// DeviceDatabase contains known USB serial bridges and boards
type DeviceDatabase struct {
	vendors map[gousb.ID]*VendorInfo
}

// VendorInfo contains vendor-specific information
type VendorInfo struct {
	Name     string
	products map[gousb.ID]string
}

// NewDeviceDatabase creates and initializes the device database
func NewDeviceDatabase() *DeviceDatabase {
	db := &DeviceDatabase{
		vendors: make(map[gousb.ID]*VendorInfo),
	}
	db.initializeDatabase()
	return db
}

func (db *DeviceDatabase) initializeDatabase() {
	db.AddVendor(0x0403, "FTDI", map[gousb.ID]string{
		0x6001: "FT232R USB UART",
		0x6010: "FT2232 Dual UART",
		0x6011: "FT4232 Quad UART",
		0x6014: "FT232H Single HS UART",
		0x6015: "FT231X USB UART",
	})
	db.AddVendor(0x10C4, "Silicon Labs", map[gousb.ID]string{
		0xEA60: "CP210x UART Bridge",
		0xEA70: "CP2105 Dual UART Bridge",
		0xEA71: "CP2108 Quad UART Bridge",
	})
	db.AddVendor(0x067B, "Prolific Technology", map[gousb.ID]string{
		0x2303: "PL2303 Serial Port",
		0x23A3: "PL2303GC Serial Port",
	})
	db.AddVendor(0x1A86, "QinHeng Electronics", map[gousb.ID]string{
		0x7523: "CH340 Serial Converter",
		0x5523: "CH341 Serial Converter",
		0x55D4: "CH9102 Serial Converter",
	})
	db.AddVendor(0x2341, "Arduino", map[gousb.ID]string{
		0x0042: "Mega 2560",
		0x0043: "Uno",
		0x8036: "Leonardo",
		0x804D: "Zero",
	})
	db.AddVendor(0x0483, "STMicroelectronics", map[gousb.ID]string{
		0x374B: "ST-LINK/V2.1",
		0x5740: "Virtual COM Port",
	})
	db.AddVendor(0x303A, "Espressif", map[gousb.ID]string{
		0x1001: "USB JTAG/serial debug unit",
	})
	db.AddVendor(0x04D8, "Microchip Technology", map[gousb.ID]string{
		0x000A: "CDC RS-232 Emulation",
		0x00DF: "MCP2200 USB Serial Port Emulator",
	})
	db.AddVendor(0x1366, "SEGGER", map[gousb.ID]string{
		0x0105: "J-Link",
	})
	db.AddVendor(0x2E8A, "Raspberry Pi", map[gousb.ID]string{
		0x0005: "Pico",
		0x000A: "Pico SDK CDC UART",
	})
}

// IsKnownVendor checks if a vendor ID is in the database
func (db *DeviceDatabase) IsKnownVendor(vendorID gousb.ID) bool {
	_, exists := db.vendors[vendorID]
	return exists
}

// Lookup returns the vendor and product names of a device. Unknown products of
// a known vendor yield the vendor name only.
func (db *DeviceDatabase) Lookup(vendorID, productID gousb.ID) (vendor, product string, ok bool) {
	info := db.vendors[vendorID]
	if info == nil {
		return "", "", false
	}
	return info.Name, info.products[productID], true
}

// AddVendor adds or replaces a vendor and its products
func (db *DeviceDatabase) AddVendor(vendorID gousb.ID, name string, products map[gousb.ID]string) {
	info := &VendorInfo{Name: name, products: make(map[gousb.ID]string, len(products))}
	for id, model := range products {
		info.products[id] = model
	}
	db.vendors[vendorID] = info
}

// GetTotalProductCount returns total number of known products
func (db *DeviceDatabase) GetTotalProductCount() int {
	total := 0
	for _, vendor := range db.vendors {
		total += len(vendor.products)
	}
	return total
}

// ParseID parses a hexadecimal USB id as reported by the serial enumerator,
// with or without a 0x prefix
func ParseID(s string) (gousb.ID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty usb id")
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid usb id %q: %w", s, err)
	}
	return gousb.ID(v), nil
}
