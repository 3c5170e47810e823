package hboot

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/9elements/hboottool/pkg/signing"
	"github.com/9elements/hboottool/pkg/xmltree"
)

// KeyBlockSize is the size of a key stored in a hash table or a secure
// info page update.
const KeyBlockSize = 520

// keyFieldSize is the size of one ECC field in a key block.
const keyFieldSize = 64

func (b *builder) signer() (signing.Signer, error) {
	if b.Signer == nil {
		return nil, errors.New("No signing backend configured")
	}
	return b.Signer, nil
}

// keyDER returns the DER key referenced by the idx attribute of n or by its
// <File> child.
func (b *builder) keyDER(n *xmltree.Node) ([]byte, error) {
	if s, ok := n.Attr("idx"); ok && strings.TrimSpace(s) != "" {
		idx, err := b.eval(s)
		if err != nil {
			return nil, err
		}
		return b.Keyrom.Key(int(idx))
	}
	if f := n.Child("File"); f != nil {
		name, err := f.RequireAttr("name")
		if err != nil {
			return nil, err
		}
		return b.Files.ReadFile(name)
	}
	return nil, errors.New("No \"idx\" attribute and no child \"File\" found!")
}

// keyMaterial reads the key referenced by n and extracts its fields.
func (b *builder) keyMaterial(n *xmltree.Node, public bool) (*signing.KeyMaterial, []byte, error) {
	der, err := b.keyDER(n)
	if err != nil {
		return nil, nil, err
	}
	s, err := b.signer()
	if err != nil {
		return nil, nil, err
	}
	k, err := s.KeyInfo(der, public)
	if err != nil {
		return nil, nil, err
	}
	return k, der, nil
}

// keyBlock encodes k in the 520 byte layout used by hash tables and secure
// info page updates.
func (b *builder) keyBlock(k *signing.KeyMaterial) ([]byte, error) {
	id := k.ID(b.Chip.IsNetX90())
	var out []byte
	switch k.Algorithm {
	case signing.RSA:
		out = append(out, byte(signing.RSA), id)
		out = fillup(out, k.Mod, 512)
		out = append(out, k.Exp...)
		out = append(out, 0, 0, 0)
	case signing.ECC:
		out = append(out, byte(signing.ECC), id)
		for _, f := range eccFields(k) {
			out = fillup(out, f, keyFieldSize)
		}
		out = append(out, 0, 0, 0, 0, 0, 0)
	default:
		return nil, fmt.Errorf("Unknown key algorithm %d", k.Algorithm)
	}
	if len(out) != KeyBlockSize {
		return nil, fmt.Errorf("Invalid key block size %d", len(out))
	}
	return out, nil
}

func eccFields(k *signing.KeyMaterial) [][]byte {
	return [][]byte{k.Qx, k.Qy, k.A, k.B, k.P, k.Gx, k.Gy, k.N}
}

// inlineKey encodes the public part of a key as data. Only the netX90
// family knows this layout.
func (b *builder) inlineKey(n *xmltree.Node) ([]byte, error) {
	if !b.Chip.IsNetX90() {
		return nil, fmt.Errorf("Key data is not supported for the netX type %q.", b.Chip)
	}
	k, _, err := b.keyMaterial(n, false)
	if err != nil {
		return nil, err
	}
	id := k.ID(true)
	var out []byte
	switch k.Algorithm {
	case signing.RSA:
		out = append(out, byte(signing.RSA), id)
		out = fillup(out, k.Mod, 512)
		out = append(out, k.Exp...)
	case signing.ECC:
		out = append(out, byte(signing.ECC), id)
		for _, f := range eccFields(k) {
			out = fillup(out, f, keyFieldSize)
		}
		out = append(out, 0, 0, 0)
	default:
		return nil, fmt.Errorf("Unknown key algorithm %d", k.Algorithm)
	}
	return out, nil
}

// hexText decodes the text of a node after removing all whitespace.
func hexText(n *xmltree.Node) ([]byte, error) {
	clean := strings.Join(strings.Fields(n.Text), "")
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("Invalid hex data in node %q: %v", n.Name, err)
	}
	return data, nil
}

// binding reads the named hex child of n and checks its size against the
// chip.
func (b *builder) binding(n *xmltree.Node, name string) ([]byte, error) {
	c := n.Child(name)
	if c == nil {
		return nil, fmt.Errorf("No %q node found!", name)
	}
	data, err := hexText(c)
	if err != nil {
		return nil, err
	}
	if len(data) != b.Chip.bindingSize() {
		return nil, fmt.Errorf("The binding in node %q has an invalid size of %d bytes.", name, len(data))
	}
	return data, nil
}

// sign signs msg with the DER key and converts the signature to the layout
// the boot ROM verifies.
func (b *builder) sign(k *signing.KeyMaterial, der, msg []byte) ([]byte, error) {
	s, err := b.signer()
	if err != nil {
		return nil, err
	}
	sig, err := s.Sign(der, k.Algorithm, msg)
	if err != nil {
		return nil, err
	}
	return signing.ChipSignature(k, sig)
}
