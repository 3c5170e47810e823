package hboot

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/9elements/hboottool/pkg/segment"
	"github.com/9elements/hboottool/pkg/xmltree"
)

// MaxSkipSize is the largest area a Skip chunk fills with data.
const MaxSkipSize = segment.MaxImageSize

// skipArea describes the flash area jumped over by a skip chunk.
type skipArea struct {
	// Words is the size of the area in words.
	Words int
	Fill  byte
	// File is the optional <File> node which provides the contents.
	File *xmltree.Node
	Path string
}

// skipHeader builds the skip chunk without the area contents.
func (b *builder) skipHeader(c *Chunk, st *schedState) (*skipArea, error) {
	if b.Chip == NETX56 {
		return nil, fmt.Errorf("Skip chunks are not supported on %s", b.Chip)
	}
	n := c.Node
	area := &skipArea{Fill: 0xff}

	if f := n.Child("File"); f != nil {
		name, ok := f.Attr("name")
		if !ok || name == "" {
			return nil, errors.New("The file node has no name attribute!")
		}
		path, err := b.Files.Find(name)
		if err != nil {
			return nil, err
		}
		area.File = f
		area.Path = path
	}

	if s := strings.TrimSpace(n.AttrOr("fill", "")); s != "" {
		fill, err := b.evalRange(s, 0, 0xff)
		if err != nil {
			return nil, fmt.Errorf("Invalid fill value: %w", err)
		}
		area.Fill = byte(fill)
	}

	// The area starts after the skip chunk itself.
	cur := int64(st.Offset) + int64(2+b.img.HashDw)*4
	absolute := strings.TrimSpace(n.AttrOr("absolute", ""))
	relative := strings.TrimSpace(n.AttrOr("relative", ""))

	var next int64
	switch {
	case absolute == "" && relative == "" && area.File == nil:
		return nil, errors.New("The skip node has no \"absolute\", \"relative\" or \"file\" attribute!")
	case absolute != "" && relative != "":
		return nil, errors.New("The skip node has an \"absolute\" and a \"relative\" attribute!")
	case absolute != "":
		v, err := b.eval(absolute)
		if err != nil {
			return nil, err
		}
		next = v
	case relative != "":
		v, err := b.eval(relative)
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, fmt.Errorf("Skip does not accept a negative value for the relative attribute: %d", v)
		}
		next = cur + v
	default:
		data, err := b.Files.ReadFile(area.Path)
		if err != nil {
			return nil, err
		}
		next = cur + int64(len(data))
	}
	if next < cur {
		return nil, fmt.Errorf("Skip tries to set the offset back from %d to %d.", cur, next)
	}
	if next > 0xffffffff {
		return nil, fmt.Errorf("Skip tries to set the offset to %d which exceeds the 32 bit offset range.", next)
	}

	area.Words = int((next - cur) / 4)
	param := int64(area.Words)
	// These boot ROMs forward the offset by the argument minus one.
	if (b.Chip == NETX90MPW && b.img.Device == "SQIROM") || b.Chip == NETX4000Relaxed {
		param = next - cur + 1 - int64(b.img.HashDw)
	}

	buf := appendU32(nil, Tag("SKIP"))
	buf = appendU32(buf, uint32(param+int64(b.img.HashDw)))
	b.finishHashed(c, buf)
	return area, nil
}

// fillData returns the contents of the skipped area.
func (b *builder) fillData(area *skipArea) ([]byte, error) {
	size := area.Words * 4
	if area.File == nil {
		return bytes.Repeat([]byte{area.Fill}, size), nil
	}

	var data []byte
	var err error
	if filepath.Ext(area.Path) == ".elf" {
		img, err := b.Files.ReadELF(area.Path, sectionList(area.File))
		if err != nil {
			return nil, err
		}
		data = img.Data
	} else if data, err = b.Files.ReadFile(area.Path); err != nil {
		return nil, err
	}

	out := make([]byte, 0, size)
	if len(data) > size {
		data = data[:size]
	}
	out = append(out, data...)
	for len(out) < size {
		out = append(out, area.Fill)
	}
	return out, nil
}

func (b *builder) skip(c *Chunk, st *schedState) error {
	area, err := b.skipHeader(c, st)
	if err != nil {
		return err
	}
	if area.Words*4 > MaxSkipSize {
		return fmt.Errorf("The skipped area of %d bytes exceeds the maximum of %d bytes. Use SkipIncomplete for areas without contents.", area.Words*4, MaxSkipSize)
	}
	fill, err := b.fillData(area)
	if err != nil {
		return err
	}
	c.Data = append(c.Data, fill...)
	return nil
}

func (b *builder) skipIncomplete(c *Chunk, st *schedState) error {
	if b.img.HasEnd {
		return errors.New("A \"SkipIncomplete\" chunk can not be combined with an end marker. Set \"has_end\" to \"False\".")
	}
	if _, err := b.skipHeader(c, st); err != nil {
		return err
	}
	st.MoreChunksAllowed = false
	return nil
}
