package hboot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/9elements/hboottool/pkg/signing"
	"github.com/9elements/hboottool/pkg/xmltree"
)

// infoPages maps the names of the netX90 info pages to their ids.
var infoPages = map[string]uint8{
	"CAL": 0,
	"COM": 1,
	"APP": 2,
}

func targetInfoPage(n *xmltree.Node) (uint8, error) {
	s := strings.TrimSpace(n.Text)
	if v, ok := infoPages[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("Invalid target: %q. Valid targets: CAL, COM, APP", s)
}

// infoBinding is the value and the mask of a netX90 binding.
type infoBinding struct {
	Value, Mask []byte
}

func (b *builder) infoBinding(n *xmltree.Node) (*infoBinding, error) {
	value, err := b.binding(n, "Value")
	if err != nil {
		return nil, err
	}
	mask, err := b.binding(n, "Mask")
	if err != nil {
		return nil, err
	}
	return &infoBinding{Value: value, Mask: mask}, nil
}

// signingKey is a private key with its extracted fields.
type signingKey struct {
	Material *signing.KeyMaterial
	DER      []byte
}

func (b *builder) signingKey(n *xmltree.Node) (*signingKey, error) {
	k, der, err := b.keyMaterial(n, false)
	if err != nil {
		return nil, err
	}
	return &signingKey{Material: k, DER: der}, nil
}

// NoKeyIndex marks an unsigned secure info page update.
const NoKeyIndex = 0xff

func (b *builder) updateSecureInfoPage(c *Chunk, _ *schedState) error {
	var (
		target    *uint8
		key       *signingKey
		keyIdx    int64 = NoKeyIndex
		bind      *infoBinding
		data      *dataBlock
		targetVal uint8
	)
	for _, n := range c.Node.Children {
		var err error
		switch n.Name {
		case "TargetInfoPage":
			if targetVal, err = targetInfoPage(n); err == nil {
				target = &targetVal
			}
		case "Key":
			key, err = b.signingKey(n)
		case "KeyIndex":
			if strings.TrimSpace(n.Text) == "" {
				return errors.New("\"KeyIndex\" has no data!")
			}
			keyIdx, err = b.evalRange(n.Text, 0, 0xff)
		case "Binding":
			bind, err = b.infoBinding(n)
		case "Data":
			data, err = b.dataContents(n, false)
		default:
			err = fmt.Errorf("Unexpected node: %s", n.Name)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", n.Name, err)
		}
	}

	var errs []string
	if target == nil {
		errs = append(errs, "No target set in USIP.")
	}
	if data == nil {
		errs = append(errs, "No \"data\" set in USIP.")
	}
	if keyIdx == NoKeyIndex {
		if key != nil {
			errs = append(errs, "The key index is 0xff, but a key set in USIP.")
		}
		if bind != nil {
			errs = append(errs, "The key index is 0xff, but a binding set in USIP.")
		}
	} else {
		if key == nil {
			errs = append(errs, "The key index is not 0xff, but no key set in USIP.")
		}
		if bind == nil {
			errs = append(errs, "The key index is not 0xff, but no binding set in USIP.")
		}
	}
	if err := missing(errs); err != nil {
		return err
	}
	if len(data.Data) > 0xffff {
		return fmt.Errorf("The USIP data is too large: %d bytes", len(data.Data))
	}

	body := []byte{*target, byte(keyIdx)}
	body = appendU16(body, uint16(len(data.Data)))
	if keyIdx == NoKeyIndex {
		body = append(body, data.Data...)
		b.wrap(c, "USIP", pad4(body))
		return nil
	}

	body = append(body, bind.Value...)
	body = append(body, bind.Mask...)
	block, err := b.keyBlock(key.Material)
	if err != nil {
		return err
	}
	body = append(body, block...)
	body = pad4(append(body, data.Data...))

	sigSize := key.Material.SignatureSize()
	buf := appendU32(nil, Tag("USIP"))
	buf = appendU32(buf, uint32(len(body)/4+sigSize/4))
	buf = append(buf, body...)
	sig, err := b.sign(key.Material, key.DER, buf)
	if err != nil {
		return err
	}
	c.Data = append(buf, sig...)
	c.Finished = true
	return nil
}
