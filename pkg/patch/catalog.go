// Package patch holds the patch table of a netX boot ROM: named constants
// and the layout of every boot option, plus the compiler that turns
// <Options> descriptions into option byte streams.
package patch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/9elements/hboottool/pkg/xmltree"
	"github.com/koding/multiconfig"
)

// ElementType selects how an option element is stored.
type ElementType int

const (
	// ElementFixed is stored as exactly Size bytes
	ElementFixed ElementType = 0
	// ElementLen8 is prefixed with a one byte length and must be shorter than Size
	ElementLen8 ElementType = 1
	// ElementLen16 is prefixed with a little endian 16 bit length
	ElementLen16 ElementType = 2
)

// RawOptionValue is the opcode of a RAW option.
const RawOptionValue = 0xfe

// Element is one field of an option.
type Element struct {
	ID   string
	Size int
	Type ElementType
}

// Option describes the layout of one boot option.
type Option struct {
	ID       string
	Value    uint8
	Elements []Element
}

// Catalog is a loaded patch table.
type Catalog struct {
	constants map[string]int64
	options   map[string]*Option
	byValue   map[uint8]*Option
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		constants: make(map[string]int64),
		options:   make(map[string]*Option),
		byValue:   make(map[uint8]*Option),
	}
}

// AddConstant defines a named constant.
func (c *Catalog) AddConstant(name string, value int64) error {
	if name == "" {
		return errors.New("Missing name attribute!")
	}
	if _, ok := c.constants[name]; ok {
		return fmt.Errorf("Name %q double defined!", name)
	}
	c.constants[name] = value
	return nil
}

// AddOption defines an option layout.
func (c *Catalog) AddOption(o Option) error {
	if o.ID == "" {
		return errors.New("Missing id attribute!")
	}
	if _, ok := c.options[o.ID]; ok {
		return fmt.Errorf("ID %s double defined!", o.ID)
	}
	for _, e := range o.Elements {
		if e.Type < ElementFixed || e.Type > ElementLen16 {
			return fmt.Errorf("Unknown Type %d in option %s", e.Type, o.ID)
		}
	}
	opt := o
	c.options[o.ID] = &opt
	if _, ok := c.byValue[o.Value]; !ok {
		c.byValue[o.Value] = &opt
	}
	return nil
}

// Lookup resolves a constant. Catalog implements expr.Symbols.
func (c *Catalog) Lookup(name string) (int64, bool) {
	v, ok := c.constants[name]
	return v, ok
}

// Constant returns a constant or an error if it is not defined.
func (c *Catalog) Constant(name string) (int64, error) {
	v, ok := c.constants[name]
	if !ok {
		return 0, fmt.Errorf("Unknown constant %s.", name)
	}
	return v, nil
}

// Option returns the layout of the option with the given id.
func (c *Catalog) Option(id string) (*Option, error) {
	o, ok := c.options[id]
	if !ok {
		return nil, fmt.Errorf("The option ID %s was not found!", id)
	}
	return o, nil
}

// OptionByValue returns the first option defined with the opcode v.
func (c *Catalog) OptionByValue(v uint8) (*Option, bool) {
	o, ok := c.byValue[v]
	return o, ok
}

// Constants returns all constant names in sorted order.
func (c *Catalog) Constants() []string {
	names := make([]string, 0, len(c.constants))
	for n := range c.constants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("Invalid number %q", s)
	}
	return v, nil
}

func requireInt(n *xmltree.Node, name string) (int64, error) {
	s, err := n.RequireAttr(name)
	if err != nil {
		return 0, err
	}
	return parseInt(s)
}

// LoadXML reads a patch table in the XML format:
//
//	<PatchDefinitions>
//	  <Options><Option id="..." value="..."><Element id="..." size="..." type="..."/></Option></Options>
//	  <Definitions><Definition name="..." value="..."/></Definitions>
//	</PatchDefinitions>
func LoadXML(r io.Reader) (*Catalog, error) {
	root, err := xmltree.Parse(r)
	if err != nil {
		return nil, err
	}
	c := New()
	for _, section := range root.Children {
		switch section.Name {
		case "Options":
			for _, on := range section.ChildrenNamed("Option") {
				id, err := on.RequireAttr("id")
				if err != nil {
					return nil, err
				}
				value, err := requireInt(on, "value")
				if err != nil {
					return nil, err
				}
				if value < 0 || value > 0xff {
					return nil, fmt.Errorf("Invalid value %d for option %s", value, id)
				}
				o := Option{ID: id, Value: uint8(value)}
				for _, en := range on.ChildrenNamed("Element") {
					eid, err := en.RequireAttr("id")
					if err != nil {
						return nil, err
					}
					size, err := requireInt(en, "size")
					if err != nil {
						return nil, err
					}
					typ, err := requireInt(en, "type")
					if err != nil {
						return nil, err
					}
					o.Elements = append(o.Elements, Element{ID: eid, Size: int(size), Type: ElementType(typ)})
				}
				if err := c.AddOption(o); err != nil {
					return nil, err
				}
			}
		case "Definitions":
			for _, dn := range section.ChildrenNamed("Definition") {
				name, err := dn.RequireAttr("name")
				if err != nil {
					return nil, err
				}
				value, err := requireInt(dn, "value")
				if err != nil {
					return nil, err
				}
				if err := c.AddConstant(name, value); err != nil {
					return nil, err
				}
			}
		}
	}
	return c, nil
}

// Table is the YAML or TOML form of a patch table.
type Table struct {
	Options     []TableOption
	Definitions []TableDefinition
}

// TableOption is one option of a Table.
type TableOption struct {
	ID       string `required:"true"`
	Value    string `required:"true"`
	Elements []TableElement
}

// TableElement is one element of a TableOption.
type TableElement struct {
	ID   string
	Size int
	Type int
}

// TableDefinition is one constant of a Table.
type TableDefinition struct {
	Name  string `required:"true"`
	Value string `required:"true"`
}

// Catalog converts the table.
func (t *Table) Catalog() (*Catalog, error) {
	c := New()
	for _, to := range t.Options {
		value, err := parseInt(to.Value)
		if err != nil {
			return nil, err
		}
		if value < 0 || value > 0xff {
			return nil, fmt.Errorf("Invalid value %d for option %s", value, to.ID)
		}
		o := Option{ID: to.ID, Value: uint8(value)}
		for _, te := range to.Elements {
			if te.ID == "" {
				return nil, fmt.Errorf("Missing element id in option %s", to.ID)
			}
			o.Elements = append(o.Elements, Element{ID: te.ID, Size: te.Size, Type: ElementType(te.Type)})
		}
		if err := c.AddOption(o); err != nil {
			return nil, err
		}
	}
	for _, td := range t.Definitions {
		value, err := parseInt(td.Value)
		if err != nil {
			return nil, err
		}
		if err := c.AddConstant(td.Name, value); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Load reads a patch table from disk. XML files use LoadXML, YAML and TOML
// files are read through multiconfig into a Table.
func Load(path string) (*Catalog, error) {
	var loader multiconfig.Loader
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return LoadXML(f)
	case ".yaml", ".yml":
		loader = &multiconfig.YAMLLoader{Path: path}
	case ".toml":
		loader = &multiconfig.TOMLLoader{Path: path}
	case ".json":
		loader = &multiconfig.JSONLoader{Path: path}
	default:
		return nil, fmt.Errorf("Unknown patch table format: %s", path)
	}

	table := new(Table)
	if err := loader.Load(table); err != nil {
		return nil, err
	}
	if err := (&multiconfig.RequiredValidator{}).Validate(table); err != nil {
		return nil, err
	}
	return table.Catalog()
}
