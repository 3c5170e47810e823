package patch

import (
	"fmt"
)

// DecodedOption is one option recovered from a compiled option stream.
type DecodedOption struct {
	ID     string
	Value  uint8
	Offset uint16
	// Elements holds the data of every element without length prefixes.
	Elements [][]byte
}

// Decode splits a compiled option stream back into options and their
// element data. Decoding stops at the end of the stream; trailing zero
// padding is accepted.
func (c *Catalog) Decode(b []byte) ([]DecodedOption, error) {
	var out []DecodedOption
	pos := 0
	need := func(n int) error {
		if pos+n > len(b) {
			return fmt.Errorf("Truncated option at offset %d", pos)
		}
		return nil
	}

	for pos < len(b) {
		op := b[pos]
		if op == 0 && allZero(b[pos:]) {
			break
		}
		pos++

		if op == RawOptionValue {
			if err := need(3); err != nil {
				return nil, err
			}
			size := int(b[pos])
			offset := uint16(b[pos+1]) | uint16(b[pos+2])<<8
			pos += 3
			if err := need(size); err != nil {
				return nil, err
			}
			out = append(out, DecodedOption{
				ID:       "RAW",
				Value:    op,
				Offset:   offset,
				Elements: [][]byte{append([]byte(nil), b[pos:pos+size]...)},
			})
			pos += size
			continue
		}

		desc, ok := c.OptionByValue(op)
		if !ok {
			return nil, fmt.Errorf("Unknown option value 0x%02x at offset %d", op, pos-1)
		}
		d := DecodedOption{ID: desc.ID, Value: op}
		for _, e := range desc.Elements {
			size := e.Size
			switch e.Type {
			case ElementLen8:
				if err := need(1); err != nil {
					return nil, err
				}
				size = int(b[pos])
				pos++
			case ElementLen16:
				if err := need(2); err != nil {
					return nil, err
				}
				size = int(b[pos]) | int(b[pos+1])<<8
				pos += 2
			}
			if err := need(size); err != nil {
				return nil, err
			}
			d.Elements = append(d.Elements, append([]byte(nil), b[pos:pos+size]...))
			pos += size
		}
		out = append(out, d)
	}
	return out, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
