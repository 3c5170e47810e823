package hboot

import (
	"fmt"
	"strings"
)

// Register chunk opcodes.
const (
	RegisterNop             = 0x00
	RegisterLoadStore       = 0x01
	RegisterDelay           = 0x02
	RegisterPoll            = 0x03
	RegisterLoadStoreMask   = 0x04
	RegisterSourceIsReg     = 0x10
	RegisterUnlockAccessKey = 0x20
)

type registerAttr struct {
	name     string
	optional bool
	def      uint32
}

type registerOp struct {
	opcode    byte
	unlock    bool
	attrs     []registerAttr
	serialize []string
}

var registerOps = map[string]registerOp{
	"nop": {opcode: RegisterNop},
	"set": {
		opcode:    RegisterLoadStore,
		unlock:    true,
		attrs:     []registerAttr{{name: "address"}, {name: "value"}},
		serialize: []string{"value", "address"},
	},
	"copy": {
		opcode:    RegisterLoadStore | RegisterSourceIsReg,
		unlock:    true,
		attrs:     []registerAttr{{name: "source"}, {name: "dest"}},
		serialize: []string{"source", "dest"},
	},
	"delay": {
		opcode:    RegisterDelay,
		attrs:     []registerAttr{{name: "time_ms"}},
		serialize: []string{"time_ms"},
	},
	"poll": {
		opcode: RegisterPoll,
		attrs: []registerAttr{
			{name: "address"},
			{name: "mask", optional: true, def: 0xffffffff},
			{name: "cmp"},
			{name: "timeout_ms"},
		},
		serialize: []string{"address", "mask", "cmp", "timeout_ms"},
	},
	"setmask": {
		opcode:    RegisterLoadStoreMask,
		unlock:    true,
		attrs:     []registerAttr{{name: "address"}, {name: "mask"}, {name: "value"}},
		serialize: []string{"value", "mask", "address"},
	},
	"copymask": {
		opcode:    RegisterLoadStoreMask | RegisterSourceIsReg,
		unlock:    true,
		attrs:     []registerAttr{{name: "source"}, {name: "mask"}, {name: "dest"}},
		serialize: []string{"source", "mask", "dest"},
	},
}

func (b *builder) register(c *Chunk, _ *schedState) error {
	var payload []byte
	for _, n := range c.Node.Children {
		op, ok := registerOps[n.Name]
		if !ok {
			return fmt.Errorf("Unknown command type in register chunk: %s", n.Name)
		}

		values := make(map[string]uint32)
		for _, a := range op.attrs {
			s, _ := n.Attr(a.name)
			s = strings.TrimSpace(s)
			switch {
			case s != "":
				v, err := b.evalU32(s)
				if err != nil {
					return fmt.Errorf("Could not parse value %s in attribute %s: %w", s, a.name, err)
				}
				values[a.name] = v
			case a.optional:
				values[a.name] = a.def
			default:
				return fmt.Errorf("Mandatory attribute %s is missing", a.name)
			}
		}

		opcode := op.opcode
		if op.unlock {
			switch s := strings.TrimSpace(n.AttrOr("unlock", "false")); s {
			case "true":
				opcode += RegisterUnlockAccessKey
			case "false":
			default:
				return fmt.Errorf("Invalid value %s for boolean attribute unlock", s)
			}
		}

		payload = append(payload, opcode)
		for _, name := range op.serialize {
			payload = appendU32(payload, values[name])
		}
	}
	b.wrap(c, "REGI", pad4(payload))
	return nil
}
