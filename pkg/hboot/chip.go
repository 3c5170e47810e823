// Package hboot compiles HBoot image descriptions into boot images for the
// netX boot ROMs.
package hboot

import (
	"fmt"
	"strings"
)

// Chip is a netX type.
type Chip string

const (
	// NETX56 is the netX51/52/56 family
	NETX56 Chip = "NETX56"
	// NETX4000Relaxed is the netX4000 RELAXED
	NETX4000Relaxed Chip = "NETX4000_RELAXED"
	// NETX4000 is the netX4000 FULL
	NETX4000 Chip = "NETX4000"
	// NETX4100 is the netX4100 SMALL
	NETX4100 Chip = "NETX4100"
	// NETX90MPW is the netX90 MPW sample
	NETX90MPW Chip = "NETX90_MPW"
	// NETX90 is the netX90 rev. 1
	NETX90 Chip = "NETX90"
	// NETX90B is the netX90 rev. 2
	NETX90B Chip = "NETX90B"
)

// Chips lists all supported netX types.
var Chips = []Chip{NETX56, NETX4000Relaxed, NETX4000, NETX4100, NETX90MPW, NETX90, NETX90B}

// ParseChip maps a netX type name to a Chip.
func ParseChip(s string) (Chip, error) {
	for _, c := range Chips {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	var names []string
	for _, c := range Chips {
		names = append(names, string(c))
	}
	return "", fmt.Errorf("Unknown netX type %q. Valid types are %s", s, strings.Join(names, ", "))
}

func (c Chip) isNetX4000() bool {
	return c == NETX4000Relaxed || c == NETX4000 || c == NETX4100
}

// IsNetX90 reports whether c is a member of the netX90 family.
func (c Chip) IsNetX90() bool {
	return c == NETX90MPW || c == NETX90 || c == NETX90B
}

// Boot header magic cookies.
const (
	MagicCookieNetX56      = 0xf8beaf00
	MagicCookie            = 0xf3beaf00
	MagicCookieAlternative = 0xf3ad9e00
)

// cookie returns the magic cookie for an image type.
func (c Chip) cookie(t ImageType) uint32 {
	if c == NETX56 {
		return MagicCookieNetX56
	}
	if t == Alternative && c.hasAlternative() {
		return MagicCookieAlternative
	}
	return MagicCookie
}

func (c Chip) hasAlternative() bool {
	return c.isNetX4000() || c == NETX90 || c == NETX90B
}

// romloaderChipType is the chip type id used by the flasher.
var romloaderChipType = map[Chip]uint32{
	NETX4000Relaxed: 8,
	NETX90MPW:       10,
	NETX4000:        11,
	NETX4100:        12,
	NETX90:          13,
	NETX90B:         14,
}

// flashDevice is the location of a boot device on the flasher's buses.
type flashDevice struct {
	Bus, Unit, ChipSelect uint32
}

var netx4000Devices = map[string]flashDevice{
	"SQIROM0": {Bus: 1, Unit: 0, ChipSelect: 0},
	"SQIROM1": {Bus: 1, Unit: 1, ChipSelect: 0},
}

var netx90Devices = map[string]flashDevice{
	"INTFLASH": {Bus: 2, Unit: 3, ChipSelect: 0},
	"SQIROM":   {Bus: 1, Unit: 0, ChipSelect: 0},
}

func (c Chip) flashDevices() map[string]flashDevice {
	switch {
	case c.isNetX4000():
		return netx4000Devices
	case c.IsNetX90():
		return netx90Devices
	}
	return nil
}

// flasherInfo packs the chip type and the boot device for header slot 5.
func (c Chip) flasherInfo(device string) (uint32, error) {
	chipType, ok := romloaderChipType[c]
	if !ok {
		return 0, fmt.Errorf("Cannot set flasher parameters for chip type %s", c)
	}
	dev, ok := c.flashDevices()[device]
	if !ok {
		return 0, fmt.Errorf("Cannot set flasher parameters for device %s", device)
	}
	return chipType + 0x100*dev.Bus + 0x10000*dev.Unit + 0x1000000*dev.ChipSelect, nil
}

// xipWindow is an execute in place area.
type xipWindow struct {
	Device     string
	Start, End uint32
}

func (c Chip) xipWindows() ([]xipWindow, error) {
	switch {
	case c.isNetX4000():
		return []xipWindow{
			{Device: "SQIROM0", Start: 0x10000000, End: 0x14000000},
			{Device: "SQIROM1", Start: 0x14000000, End: 0x18000000},
		}, nil
	case c.IsNetX90():
		return []xipWindow{
			{Device: "SQIROM", Start: 0x64000000, End: 0x68000000},
			{Device: "INTFLASH", Start: 0x00100000, End: 0x00200000},
		}, nil
	}
	return nil, fmt.Errorf("XIP chunks are not supported on %s", c)
}

// bindingSize is the size of a binding mask or reference in bytes.
func (c Chip) bindingSize() int {
	if c.isNetX4000() {
		return 64
	}
	return 28
}

// Devices lists the valid values of the image device attribute.
var Devices = []string{"UNSPECIFIED", "INTFLASH", "SQIROM", "SQIROM0", "SQIROM1"}

func validDevice(d string) bool {
	for _, v := range Devices {
		if v == d {
			return true
		}
	}
	return false
}
