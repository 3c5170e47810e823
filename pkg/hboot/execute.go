package hboot

import (
	"errors"
	"fmt"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/9elements/hboottool/pkg/xmltree"
)

// entryPoint is the start address and the register values of a core.
type entryPoint struct {
	Start          uint32
	R0, R1, R2, R3 uint32
}

func (e *entryPoint) words() []uint32 {
	return []uint32{e.Start, e.R0, e.R1, e.R2, e.R3}
}

// entryPoint reads a <File> or <Address> child and the optional register
// children of n.
func (b *builder) entryPoint(n *xmltree.Node) (*entryPoint, error) {
	var (
		e        entryPoint
		hasStart bool
	)
	for _, c := range n.Children {
		var err error
		switch c.Name {
		case "File", "Address":
			if hasStart {
				return nil, errors.New("More than one execution address specified!")
			}
			hasStart = true
			if c.Name == "Address" {
				e.Start, err = b.evalU32(c.Text)
			} else {
				e.Start, err = b.startSymbol(c)
			}
		case "R0":
			e.R0, err = b.evalU32(c.Text)
		case "R1":
			e.R1, err = b.evalU32(c.Text)
		case "R2":
			e.R2, err = b.evalU32(c.Text)
		case "R3":
			e.R3, err = b.evalU32(c.Text)
		default:
			err = fmt.Errorf("Unexpected node: %s", c.Name)
		}
		if err != nil {
			return nil, err
		}
	}
	if !hasStart {
		return nil, errors.New("No execution address specified!")
	}
	return &e, nil
}

func (b *builder) startSymbol(n *xmltree.Node) (uint32, error) {
	name, ok := n.Attr("name")
	if !ok || name == "" {
		return 0, errors.New("The file node has no name attribute!")
	}
	path, err := b.Files.Find(name)
	if err != nil {
		return 0, err
	}
	if filepath.Ext(path) != ".elf" {
		return 0, errors.New("The execute chunk has a file child which points to a non-elf file. How to get the execute address from this?")
	}
	return b.Files.Symbol(path, n.AttrOr("start", "start"))
}

// Execute flags of the netX90 boot ROM.
const (
	ExecStartApp              = 1
	ExecLockFirewall          = 2
	ExecActivateDebugging     = 4
	ExecApplyFirewallSettings = 8
)

var execFlags = []struct {
	attr string
	flag uint32
}{
	{"start_app", ExecStartApp},
	{"lock_firewall", ExecLockFirewall},
	{"activate_debugging", ExecActivateDebugging},
	{"apply_firewall_settings", ExecApplyFirewallSettings},
}

func (b *builder) execute(c *Chunk, _ *schedState) error {
	e, err := b.entryPoint(c.Node)
	if err != nil {
		return err
	}
	var payload []byte
	for _, w := range e.words() {
		payload = appendU32(payload, w)
	}
	if b.Chip == NETX90 || b.Chip == NETX90B {
		var flags uint32
		for _, f := range execFlags {
			set, err := boolAttr(c.Node, f.attr, false)
			if err != nil {
				return err
			}
			if set {
				flags |= f.flag
			}
		}
		payload = appendU32(payload, flags)
	}
	b.wrap(c, "EXEC", payload)
	return nil
}

func (b *builder) executeCA9(c *Chunk, _ *schedState) error {
	var cores [2]entryPoint
	for _, n := range c.Node.Children {
		var idx int
		switch n.Name {
		case "Core0":
			idx = 0
		case "Core1":
			idx = 1
		default:
			return fmt.Errorf("Unexpected node: %s", n.Name)
		}
		e, err := b.entryPoint(n)
		if err != nil {
			return err
		}
		cores[idx] = *e
	}
	if cores[0].Start == 0 && cores[1].Start == 0 {
		klog.Warningf("No core is started with the ExecuteCA9 chunk!")
	}

	var payload []byte
	for i := range cores {
		for _, w := range cores[i].words() {
			payload = appendU32(payload, w)
		}
	}
	b.wrap(c, "EXA9", payload)
	return nil
}
