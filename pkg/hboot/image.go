package hboot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/9elements/hboottool/pkg/expr"
	"github.com/9elements/hboottool/pkg/xmltree"
)

// ImageType selects the layout of the output file.
type ImageType int

const (
	// Regular is a boot image with header, chunks and end marker
	Regular ImageType = iota
	// InternalRAM is a regular image placed in internal RAM
	InternalRAM
	// SecureMemory is the byte based secure memory image
	SecureMemory
	// ComInfoPage is the netX90 COM info page
	ComInfoPage
	// AppInfoPage is the netX90 APP info page
	AppInfoPage
	// Alternative is a regular image with the alternative magic cookie
	Alternative
)

var imageTypeNames = map[ImageType]string{
	Regular:      "REGULAR",
	InternalRAM:  "INTRAM",
	SecureMemory: "SECMEM",
	ComInfoPage:  "COM_INFO_PAGE",
	AppInfoPage:  "APP_INFO_PAGE",
	Alternative:  "ALTERNATIVE",
}

func (t ImageType) String() string {
	if s, ok := imageTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ImageType(%d)", int(t))
}

// ParseImageType maps the type attribute of an image to an ImageType.
func ParseImageType(s string) (ImageType, error) {
	for t, name := range imageTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("Invalid image type: %q", s)
}

func (t ImageType) isInfoPage() bool {
	return t == ComInfoPage || t == AppInfoPage
}

// noFrame reports whether the image type has neither header nor end marker.
func (t ImageType) noFrame() bool {
	return t == SecureMemory || t.isInfoPage()
}

// Image is a compiled HBoot image.
type Image struct {
	Chip      Chip
	Type      ImageType
	HasHeader bool
	HasEnd    bool
	// HashDw is the number of digest words appended to each chunk.
	HashDw      int
	StartOffset uint32
	PaddingSize int
	PaddingByte byte
	Device      string

	SetFlasherParameters bool
	// Overrides replace the computed header values.
	Overrides [16]*uint32

	Chunks []*Chunk
	// Header is the boot header written in front of the chunks.
	Header Header
	// Output is the complete image file.
	Output []byte
}

// ParseBool accepts TRUE, T, YES, Y and 1 or FALSE, F, NO, N and 0 in any
// case.
func ParseBool(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE", "T", "YES", "Y", "1":
		return true, nil
	case "FALSE", "F", "NO", "N", "0":
		return false, nil
	}
	return false, fmt.Errorf("Invalid boolean value %q", s)
}

// boolAttr reads an optional boolean attribute.
func boolAttr(n *xmltree.Node, name string, def bool) (bool, error) {
	s, ok := n.Attr(name)
	if !ok || s == "" {
		return def, nil
	}
	v, err := ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("Attribute %q: %w", name, err)
	}
	return v, nil
}

func intAttr(n *xmltree.Node, name string, def int64) (int64, error) {
	s, ok := n.Attr(name)
	if !ok || strings.TrimSpace(s) == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("Attribute %q: invalid number %q", name, s)
	}
	return v, nil
}

// parseAttributes reads the attributes of the root node.
func (img *Image) parseAttributes(root *xmltree.Node) error {
	img.Type = Regular
	if s, ok := root.Attr("type"); ok && s != "" {
		t, err := ParseImageType(s)
		if err != nil {
			return err
		}
		img.Type = t
	}
	if img.Type == Alternative && !img.Chip.hasAlternative() {
		return fmt.Errorf("The image type \"ALTERNATIVE\" is not allowed for the netX %q", img.Chip)
	}

	var err error
	if img.Type.noFrame() {
		img.HasHeader = false
		img.HasEnd = false
	} else {
		if img.HasHeader, err = boolAttr(root, "has_header", true); err != nil {
			return err
		}
		if img.HasEnd, err = boolAttr(root, "has_end", true); err != nil {
			return err
		}
	}

	switch {
	case img.Type == SecureMemory:
		img.HashDw = 0
	case img.Type.isInfoPage():
		img.HashDw = 12
	default:
		size, err := intAttr(root, "hashsize", 1)
		if err != nil {
			return err
		}
		if size < 1 || size > 12 {
			return fmt.Errorf("Invalid hash size: %d", size)
		}
		img.HashDw = int(size)
	}

	offset, err := intAttr(root, "offset", 0)
	if err != nil {
		return err
	}
	if offset < 0 || offset > 0xffffffff {
		return fmt.Errorf("The start offset in the <HBootImage> tag is invalid: %d", offset)
	}
	if offset%4 != 0 {
		return fmt.Errorf("The start offset in the <HBootImage> tag must be a multiple of 4: %d", offset)
	}
	img.StartOffset = uint32(offset)

	size, err := intAttr(root, "padding_pre_size", 0)
	if err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("The padding pre size is invalid: %d", size)
	}
	img.PaddingSize = int(size)
	value, err := intAttr(root, "padding_pre_value", 0xff)
	if err != nil {
		return err
	}
	if value < 0 || value > 0xff {
		return fmt.Errorf("The padding pre value is invalid: %d", value)
	}
	img.PaddingByte = byte(value)

	img.Device = root.AttrOr("device", "UNSPECIFIED")
	if img.Device == "" {
		img.Device = "UNSPECIFIED"
	}
	if !validDevice(img.Device) {
		return fmt.Errorf("Invalid device name specified: %q. Valid names are %s.", img.Device, strings.Join(Devices, ", "))
	}
	return nil
}

// parseHeader reads the <Header> node with its overrides.
func (img *Image) parseHeader(n *xmltree.Node, syms expr.Symbols) error {
	if img.Type.noFrame() {
		return errors.New("Header overrides are not allowed in this image type.")
	}
	switch s := n.AttrOr("set_flasher_parameters", ""); s {
	case "", "false":
		img.SetFlasherParameters = false
	case "true":
		img.SetFlasherParameters = true
	default:
		return fmt.Errorf("Incorrect value of <Header> attribute 'set_flasher_parameters': %s", s)
	}

	for _, v := range n.Children {
		if v.Name != "Value" {
			return fmt.Errorf("Unexpected node: %s", v.Name)
		}
		idxText, err := v.RequireAttr("index")
		if err != nil {
			return err
		}
		idx, err := expr.EvalRange(idxText, syms, 0, 15)
		if err != nil {
			return fmt.Errorf("Header value index: %w", err)
		}
		if strings.TrimSpace(v.Text) == "" {
			return errors.New("The Value node has no content!")
		}
		data, err := expr.EvalU32(v.Text, syms)
		if err != nil {
			return fmt.Errorf("Header value %d: %w", idx, err)
		}
		if old := img.Overrides[idx]; old != nil {
			return fmt.Errorf("The value at index %d is already set to 0x%08x!", idx, *old)
		}
		img.Overrides[idx] = &data
	}
	return nil
}
