package hboot

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"strings"
)

// crc16 is the checksum of netX56 option chunks.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, c := range data {
		crc = crc>>8 | crc<<8
		crc ^= uint16(c)
		crc ^= (crc & 0xff) >> 4
		crc ^= crc << 12
		crc ^= (crc & 0xff) << 5
	}
	return crc
}

func (b *builder) options(c *Chunk, _ *schedState) error {
	pc, err := b.patchCompiler()
	if err != nil {
		return err
	}
	data, err := pc.Compile(c.Node)
	if err != nil {
		return err
	}

	switch {
	case b.img.Type == SecureMemory:
		c.Data = data
		c.Finished = true
	case b.Chip == NETX56:
		for (len(data)+2)%4 != 0 {
			data = append(data, 0)
		}
		crc := crc16(data)
		data = append(data, byte(crc>>8), byte(crc))
		buf := appendU32(nil, Tag("OPTS"))
		buf = appendU32(buf, uint32(len(data)/4))
		c.Data = append(buf, data...)
		c.Finished = true
	default:
		b.wrap(c, "OPTS", pad4(data))
	}
	return nil
}

func (b *builder) spiMacro(c *Chunk, _ *schedState) error {
	s, ok := c.Node.Attr("device")
	if !ok || strings.TrimSpace(s) == "" {
		return errors.New("The SPI macro node has no device attribute!")
	}
	device, err := b.evalRange(s, 0, 0xff)
	if err != nil {
		return err
	}
	pc, err := b.patchCompiler()
	if err != nil {
		return err
	}
	macro, err := pc.SpiMacro(c.Node.Text)
	if err != nil {
		return err
	}
	if len(macro) > 0xff {
		return errors.New("The SPI macro is too long. The header can only indicate up to 255 bytes.")
	}
	payload := append([]byte{byte(device), byte(len(macro))}, macro...)
	b.wrap(c, "SPIM", pad4(payload))
	return nil
}

func (b *builder) data(c *Chunk, _ *schedState) error {
	info := b.img.Type.isInfoPage()
	d, err := b.dataContents(c.Node, !info)
	if err != nil {
		return err
	}
	data := pad4(append([]byte(nil), d.Data...))
	if info {
		sum := sha512.Sum384(data)
		c.Data = data
		c.Hash = sum[:]
		c.Finished = true
		return nil
	}
	b.wrap(c, "DATA", append(appendU32(nil, d.LoadAddress), data...))
	return nil
}

func (b *builder) text(c *Chunk, _ *schedState) error {
	b.wrap(c, "TEXT", pad4([]byte(c.Node.Text)))
	return nil
}

func (b *builder) xip(c *Chunk, st *schedState) error {
	windows, err := b.Chip.xipWindows()
	if err != nil {
		return err
	}
	d, err := b.dataContents(c.Node, true)
	if err != nil {
		return err
	}

	var win *xipWindow
	for i := range windows {
		w := &windows[i]
		if d.LoadAddress >= w.Start && d.LoadAddress < w.End {
			if w.Device != b.img.Device {
				return fmt.Errorf("The XIP load address matches the %s device, but the image specifies %s", w.Device, b.img.Device)
			}
			win = w
			break
		}
	}
	if win == nil {
		return fmt.Errorf("The load address 0x%08x of the XIP block is outside the available XIP regions of the platform.", d.LoadAddress)
	}

	// The data follows the chunk id and the length.
	requested := d.LoadAddress - win.Start
	current := st.Offset + 8
	if requested != current {
		return fmt.Errorf("The current offset 0x%08x does not match the requested offset 0x%08x of the XIP data.", current, requested)
	}
	b.wrap(c, "TEXT", pad4(append([]byte(nil), d.Data...)))
	return nil
}

func (b *builder) daxz(c *Chunk, _ *schedState) error {
	s, ok := c.Node.Attr("working_address")
	if !ok || strings.TrimSpace(s) == "" {
		return errors.New("The DaXZ node has no working_address attribute!")
	}
	working, err := b.evalU32(s)
	if err != nil {
		return err
	}
	d, err := b.dataContents(c.Node, true)
	if err != nil {
		return err
	}
	payload := appendU32(nil, working)
	payload = appendU32(payload, d.LoadAddress)
	payload = append(payload, d.Data...)
	b.wrap(c, "DAXZ", pad4(payload))
	return nil
}

// FirewallSize is the size of the firewall settings in bytes.
const FirewallSize = 144

func (b *builder) firewall(c *Chunk, _ *schedState) error {
	d, err := b.dataContents(c.Node, false)
	if err != nil {
		return err
	}
	if len(d.Data) != FirewallSize {
		return errors.New("The data size of a Firewall chunk must be 36 dwords (144 bytes).")
	}
	b.wrap(c, "FRWL", d.Data)
	return nil
}

// maxMemoryDevices is the number of devices a netX90B MDUP chunk may list.
const maxMemoryDevices = 12

func (b *builder) memoryDeviceUp(c *Chunk, _ *schedState) error {
	s := c.Node.AttrOr("device", "")
	if b.Chip != NETX90B {
		device, err := b.evalRange(s, 0, 0xff)
		if err != nil {
			return err
		}
		b.wrap(c, "MDUP", appendU32(nil, uint32(device)))
		return nil
	}

	if strings.TrimSpace(s) == "" {
		return errors.New("The device attribute must not be empty.")
	}
	var devices []byte
	for _, part := range strings.Split(s, ",") {
		device, err := b.evalRange(strings.TrimSpace(part), 0, 0xff)
		if err != nil {
			return err
		}
		devices = append(devices, byte(device))
	}
	if len(devices) > maxMemoryDevices {
		return fmt.Errorf("The device attribute must not have more than %d entries on the netX90B.", maxMemoryDevices)
	}
	b.wrap(c, "MDUP", pad4(devices))
	return nil
}

func (b *builder) next(c *Chunk, _ *schedState) error {
	var errs []string
	if c.Node.Child("Device") == nil {
		errs = append(errs, "No device set in NEXT.")
	}
	if c.Node.Child("Offset") == nil {
		errs = append(errs, "No offset set in NEXT.")
	}
	if len(errs) != 0 {
		return errors.New(strings.Join(errs, "\n"))
	}
	device, err := b.childU32(c.Node, "Device")
	if err != nil {
		return err
	}
	offset, err := b.childU32(c.Node, "Offset")
	if err != nil {
		return err
	}
	if offset%4 != 0 {
		return fmt.Errorf("The offset %d is no multiple of DWORDS.", offset)
	}
	payload := appendU32(nil, device)
	payload = appendU32(payload, offset/4)
	b.wrap(c, "NEXT", payload)
	return nil
}
