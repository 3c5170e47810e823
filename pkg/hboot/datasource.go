package hboot

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/9elements/hboottool/pkg/xmltree"
)

// dataBlock is the contents of a data source with its optional load
// address.
type dataBlock struct {
	Data        []byte
	LoadAddress uint32
	HasLoad     bool
}

// dataContents reads the data source child of n. With wantLoad the source
// must provide a load address.
func (b *builder) dataContents(n *xmltree.Node, wantLoad bool) (*dataBlock, error) {
	var d *dataBlock
	for _, c := range n.Children {
		var (
			cur *dataBlock
			err error
		)
		switch c.Name {
		case "File":
			cur, err = b.fileData(c, wantLoad)
		case "Hex", "UInt32", "UInt16", "UInt8", "Key", "Concat":
			cur = &dataBlock{}
			if cur.Data, err = b.inlineData(c); err != nil {
				break
			}
			if wantLoad {
				s, ok := c.Attr("address")
				if !ok || strings.TrimSpace(s) == "" {
					return nil, fmt.Errorf("The %s node has no address attribute!", c.Name)
				}
				cur.LoadAddress, err = b.evalU32(s)
				cur.HasLoad = true
			}
		default:
			return nil, fmt.Errorf("Unexpected node: %s", c.Name)
		}
		if err != nil {
			return nil, err
		}
		if d != nil {
			return nil, errors.New("More than one data source specified!")
		}
		d = cur
	}

	if d == nil {
		return nil, errors.New("No data specified!")
	}
	if wantLoad && !d.HasLoad {
		return nil, errors.New("No load address specified!")
	}
	return d, nil
}

func (b *builder) fileData(n *xmltree.Node, wantLoad bool) (*dataBlock, error) {
	name, ok := n.Attr("name")
	if !ok || name == "" {
		return nil, errors.New("The file node has no name attribute!")
	}
	path, err := b.Files.Find(name)
	if err != nil {
		return nil, err
	}

	switch ext := filepath.Ext(path); ext {
	case ".elf":
		elf, err := b.Files.ReadELF(path, sectionList(n))
		if err != nil {
			return nil, err
		}
		d := &dataBlock{Data: elf.Data}
		if wantLoad {
			d.HasLoad = true
			d.LoadAddress = elf.LoadAddress
			if s := strings.TrimSpace(n.AttrOr("overwrite_address", "")); s != "" {
				if d.LoadAddress, err = b.evalU32(s); err != nil {
					return nil, err
				}
			}
		}
		return d, nil
	case ".bin":
		d := &dataBlock{}
		if wantLoad {
			s := strings.TrimSpace(n.AttrOr("load_address", ""))
			if s == "" {
				return nil, errors.New("The File node points to a binary file and has no load_address attribute!")
			}
			if d.LoadAddress, err = b.evalU32(s); err != nil {
				return nil, err
			}
			d.HasLoad = true
		}
		if d.Data, err = b.Files.ReadFile(path); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("The File node points to a file with an unknown extension: %s", ext)
	}
}

// sectionList splits the segments attribute of an ELF file node.
func sectionList(n *xmltree.Node) []string {
	var sections []string
	if s := strings.TrimSpace(n.AttrOr("segments", "")); s != "" {
		for _, seg := range strings.Split(s, ",") {
			sections = append(sections, strings.TrimSpace(seg))
		}
	}
	return sections
}

// inlineData decodes a data source which is written in the description.
func (b *builder) inlineData(n *xmltree.Node) ([]byte, error) {
	switch n.Name {
	case "Hex":
		return hexText(n)
	case "String":
		return []byte(n.Text), nil
	case "UInt32":
		return b.numbers(n, 4)
	case "UInt16":
		return b.numbers(n, 2)
	case "UInt8":
		return b.numbers(n, 1)
	case "Key":
		return b.inlineKey(n)
	case "Concat":
		var out []byte
		for _, c := range n.Children {
			if c.Name == "Concat" {
				return nil, fmt.Errorf("Unexpected node: %s", c.Name)
			}
			data, err := b.inlineData(c)
			if err != nil {
				return nil, err
			}
			out = append(out, data...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("Unexpected node: %s", n.Name)
}

// numbers encodes a comma separated list of expressions as little endian
// values of the given width.
func (b *builder) numbers(n *xmltree.Node, width int) ([]byte, error) {
	if strings.TrimSpace(n.Text) == "" {
		return nil, fmt.Errorf("No text in node %q found!", n.Name)
	}
	max := int64(1)<<(8*uint(width)) - 1
	var out []byte
	for _, part := range strings.Split(n.Text, ",") {
		v, err := b.evalRange(strings.TrimSpace(part), 0, max)
		if err != nil {
			return nil, err
		}
		for i := 0; i < width; i++ {
			out = append(out, byte(v>>(8*uint(i))))
		}
	}
	return out, nil
}
