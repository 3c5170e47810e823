package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/9elements/hboottool/pkg/expr"
	"github.com/9elements/hboottool/pkg/xmltree"
)

// DDR macro opcode constants which must be present in the catalog.
const (
	DDRWritePhy   = "DDR_SETUP_COMMAND_WritePhy"
	DDRWriteCtrl  = "DDR_SETUP_COMMAND_WriteCtrl"
	DDRDelayTicks = "DDR_SETUP_COMMAND_DelayTicks"
	DDRPollPhy    = "DDR_SETUP_COMMAND_PollPhy"
	DDRPollCtrl   = "DDR_SETUP_COMMAND_PollCtrl"
)

// Compiler turns <Options> nodes into option byte streams.
type Compiler struct {
	Catalog *Catalog
}

// NewCompiler returns a compiler for the given catalog.
func NewCompiler(c *Catalog) *Compiler {
	return &Compiler{Catalog: c}
}

// Compile encodes all <Option> children of n.
func (c *Compiler) Compile(n *xmltree.Node) ([]byte, error) {
	var out []byte
	for _, on := range n.Children {
		if on.Name != "Option" {
			return nil, fmt.Errorf("Unexpected node: %s", on.Name)
		}
		id, err := on.RequireAttr("id")
		if err != nil {
			return nil, err
		}
		data, err := c.optionData(on)
		if err != nil {
			return nil, fmt.Errorf("Option %s: %w", id, err)
		}

		if id == "RAW" {
			offsetText, err := on.RequireAttr("offset")
			if err != nil {
				return nil, err
			}
			offset, err := expr.EvalRange(offsetText, c.Catalog, 0, 0xffff)
			if err != nil {
				return nil, fmt.Errorf("Invalid offset for the RAW option: %w", err)
			}
			if len(data) != 1 {
				return nil, errors.New("A RAW element must have exactly one child element")
			}
			if len(data[0]) > 255 {
				return nil, errors.New("The RAW tag does not accept more than 255 bytes")
			}
			out = append(out, RawOptionValue, byte(len(data[0])), byte(offset), byte(offset>>8))
			out = append(out, data[0]...)
			continue
		}

		desc, err := c.Catalog.Option(id)
		if err != nil {
			return nil, err
		}
		if len(data) != len(desc.Elements) {
			return nil, fmt.Errorf("The number of data elements for the option %s differs. The model requires %d, but %d were found", id, len(desc.Elements), len(data))
		}
		for i, e := range desc.Elements {
			size := len(data[i])
			switch e.Type {
			case ElementFixed:
				if size != e.Size {
					return nil, fmt.Errorf("The length of the data element %s for the option %s differs. The model requires %d bytes, but %d were found", e.ID, id, e.Size, size)
				}
			case ElementLen8:
				if size >= e.Size {
					return nil, fmt.Errorf("The length of the data element %s for the option %s exceeds the available space. The model reserves %d bytes, which must include a length information, but %d were found", e.ID, id, e.Size, size)
				}
			case ElementLen16:
				if size > e.Size {
					return nil, fmt.Errorf("The length of the data element %s for the option %s exceeds the available space. The model reserves %d bytes, but %d were found", e.ID, id, e.Size, size)
				}
			}
		}
		out = append(out, desc.Value)
		for i, e := range desc.Elements {
			size := len(data[i])
			switch e.Type {
			case ElementLen8:
				out = append(out, byte(size))
			case ElementLen16:
				out = append(out, byte(size), byte(size>>8))
			}
			out = append(out, data[i]...)
		}
	}
	return out, nil
}

func (c *Compiler) optionData(on *xmltree.Node) ([][]byte, error) {
	var data [][]byte
	for _, dn := range on.Children {
		var (
			b   []byte
			err error
		)
		switch dn.Name {
		case "U08":
			b, err = c.values(dn.Text, 1)
		case "U16":
			b, err = c.values(dn.Text, 2)
		case "U32":
			b, err = c.values(dn.Text, 4)
		case "SPIM":
			b, err = c.SpiMacro(dn.Text)
		case "DDR":
			b, err = c.ddrMacro(dn)
		default:
			err = fmt.Errorf("Unexpected node: %s", dn.Name)
		}
		if err != nil {
			return nil, err
		}
		data = append(data, b)
	}
	return data, nil
}

// values encodes a comma separated list as little endian values of width
// bytes. Every value must fit into width bytes.
func (c *Compiler) values(text string, width int) ([]byte, error) {
	max := int64(1)<<(8*uint(width)) - 1
	var out []byte
	for _, part := range strings.Split(text, ",") {
		v, err := expr.EvalRange(strings.TrimSpace(part), c.Catalog, 0, max)
		if err != nil {
			return nil, err
		}
		for i := 0; i < width; i++ {
			out = append(out, byte(v>>(8*uint(i))))
		}
	}
	return out, nil
}

// SpiMacro encodes a SPI macro. Elements are separated by newlines or
// commas, '#' starts a comment and "label:" defines a label at the current
// byte address which may be used by any element of the macro.
func (c *Compiler) SpiMacro(text string) ([]byte, error) {
	var raw []string
	for _, line := range strings.Split(text, "\n") {
		raw = append(raw, strings.Split(line, ",")...)
	}

	labels := expr.Map{}
	var elements []string
	for _, r := range raw {
		e := strings.TrimSpace(r)
		if e == "" || e[0] == '#' {
			continue
		}
		parts := strings.Split(e, ":")
		switch len(parts) {
		case 1:
			elements = append(elements, parts[0])
		case 2:
			name := strings.TrimSpace(parts[0])
			if name == "" {
				return nil, errors.New("The line contains no data before the colon!")
			}
			if _, ok := labels[name]; ok {
				return nil, fmt.Errorf("Label double defined: %s", name)
			}
			labels[name] = int64(len(elements))
			if d := strings.TrimSpace(parts[1]); d != "" {
				elements = append(elements, d)
			}
		default:
			return nil, errors.New("The line contains more than one colon!")
		}
	}

	syms := expr.Chain(c.Catalog, labels)
	out := make([]byte, 0, len(elements))
	for _, e := range elements {
		v, err := expr.EvalRange(e, syms, 0, 0xff)
		if err != nil {
			return nil, err
		}
		out = append(out, byte(v))
	}
	return out, nil
}

type ddrField struct {
	attr string
	max  int64
	size int
}

var (
	ddrRegister = ddrField{"register", 0xff, 1}
	ddrData     = ddrField{"data", 0xffffffff, 4}
	ddrMask     = ddrField{"mask", 0xffffffff, 4}
	ddrTicks    = ddrField{"ticks", 0xffffffff, 4}
)

var ddrCommands = map[string]struct {
	constant string
	fields   []ddrField
}{
	"WritePhy":  {DDRWritePhy, []ddrField{ddrRegister, ddrData}},
	"WriteCtrl": {DDRWriteCtrl, []ddrField{ddrRegister, ddrData}},
	"Delay":     {DDRDelayTicks, []ddrField{ddrTicks}},
	"PollPhy":   {DDRPollPhy, []ddrField{ddrRegister, ddrMask, ddrData, ddrTicks}},
	"PollCtrl":  {DDRPollCtrl, []ddrField{ddrRegister, ddrMask, ddrData, ddrTicks}},
}

// ddrMacro encodes a DDR setup macro prefixed with its 16 bit size.
func (c *Compiler) ddrMacro(n *xmltree.Node) ([]byte, error) {
	var macro []byte
	for _, cn := range n.Children {
		cmd, ok := ddrCommands[cn.Name]
		if !ok {
			return nil, fmt.Errorf("Unknown child node: %s", cn.Name)
		}
		opcode, err := c.Catalog.Constant(cmd.constant)
		if err != nil {
			return nil, err
		}
		macro = append(macro, byte(opcode))
		for _, f := range cmd.fields {
			text, err := cn.RequireAttr(f.attr)
			if err != nil {
				return nil, err
			}
			v, err := expr.EvalRange(text, c.Catalog, 0, f.max)
			if err != nil {
				return nil, fmt.Errorf("Invalid %s for %s: %w", f.attr, cn.Name, err)
			}
			for i := 0; i < f.size; i++ {
				macro = append(macro, byte(v>>(8*uint(i))))
			}
		}
	}
	out := []byte{byte(len(macro)), byte(len(macro) >> 8)}
	return append(out, macro...), nil
}
