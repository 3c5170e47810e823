package hboot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/9elements/hboottool/pkg/signing"
	"github.com/9elements/hboottool/pkg/xmltree"
)

// Limits of the new register values of a certificate.
const (
	registerValuesBits = 512
	registerValueMax   = 128
	registerValuesSize = 255
)

// chunkFromFile returns a prebuilt certificate if n has a <File> child.
func (b *builder) chunkFromFile(n *xmltree.Node) ([]byte, bool, error) {
	f := n.Child("File")
	if f == nil {
		return nil, false, nil
	}
	name, err := f.RequireAttr("name")
	if err != nil {
		return nil, true, err
	}
	data, err := b.Files.ReadFile(name)
	if err != nil {
		return nil, true, err
	}
	if len(data)%4 != 0 {
		return nil, true, fmt.Errorf("The file %q has a size which is no multiple of 4 bytes (32 bit).", name)
	}
	return data, true, nil
}

// certBinding holds the mask and the reference of a binding.
type certBinding struct {
	Mask, Ref []byte
}

func (b *builder) certBinding(n *xmltree.Node) (*certBinding, error) {
	mask, err := b.binding(n, "Mask")
	if err != nil {
		return nil, err
	}
	ref, err := b.binding(n, "Ref")
	if err != nil {
		return nil, err
	}
	return &certBinding{Mask: mask, Ref: ref}, nil
}

// registerValues encodes <Value offset size> children as bit offset, bit
// size and data.
func (b *builder) registerValues(n *xmltree.Node) ([]byte, error) {
	var out []byte
	for _, v := range n.Children {
		if v.Name != "Value" {
			return nil, fmt.Errorf("Unexpected node: %s", v.Name)
		}
		offText, err := v.RequireAttr("offset")
		if err != nil {
			return nil, err
		}
		offset, err := b.evalRange(offText, 0, registerValuesBits-1)
		if err != nil {
			return nil, fmt.Errorf("The offset is out of range: %w", err)
		}
		sizeText, err := v.RequireAttr("size")
		if err != nil {
			return nil, err
		}
		size, err := b.evalRange(sizeText, 1, registerValueMax)
		if err != nil {
			return nil, fmt.Errorf("The size is out of range: %w", err)
		}
		if offset+size > registerValuesBits {
			return nil, fmt.Errorf("The area specified by offset %d and size %d exceeds the array.", offset, size)
		}
		data, err := hexText(v)
		if err != nil {
			return nil, err
		}
		if want := int((size + 7) / 8); len(data) != want {
			return nil, fmt.Errorf("The size of the data does not match the requested size in bits. Data size: %d bytes, requested size: %d bits", len(data), size)
		}
		out = appendU16(out, uint16(offset|(size-1)*512))
		out = append(out, data...)
	}
	if len(out) > registerValuesSize {
		return nil, errors.New("The new register values are too long!")
	}
	return out, nil
}

// userContent concatenates the <Text> and <Hex> children of n.
func userContent(n *xmltree.Node) ([]byte, error) {
	var out []byte
	for _, c := range n.Children {
		switch c.Name {
		case "Text":
			out = append(out, c.Text...)
		case "Hex":
			data, err := hexText(c)
			if err != nil {
				return nil, err
			}
			out = append(out, data...)
		default:
			return nil, fmt.Errorf("Unexpected node: %s", c.Name)
		}
	}
	return out, nil
}

// trustedPath is a public key with the mask that selects it.
type trustedPath struct {
	Mask []byte
	Key  *signing.KeyMaterial
}

func (b *builder) rsaKey(n *xmltree.Node, public bool) (*signing.KeyMaterial, []byte, error) {
	k, der, err := b.keyMaterial(n, public)
	if err != nil {
		return nil, nil, err
	}
	if k.Algorithm != signing.RSA {
		return nil, nil, errors.New("Trying to use a non-RSA certificate for a root cert.")
	}
	return k, der, nil
}

func (b *builder) trustedPath(n *xmltree.Node) (*trustedPath, error) {
	k, _, err := b.rsaKey(n, true)
	if err != nil {
		return nil, err
	}
	mask, err := b.binding(n, "Mask")
	if err != nil {
		return nil, err
	}
	return &trustedPath{Mask: mask, Key: k}, nil
}

// finishCert signs body, appends the signature and stores the chunk
// without hash.
func (b *builder) finishCert(c *Chunk, tag string, der, body []byte) error {
	s, err := b.signer()
	if err != nil {
		return err
	}
	sig, err := s.Sign(der, signing.RSA, body)
	if err != nil {
		return err
	}
	data := pad4(append(body, sig...))
	buf := appendU32(nil, Tag(tag))
	buf = appendU32(buf, uint32(len(data)/4))
	c.Data = append(buf, data...)
	c.Finished = true
	return nil
}

func missing(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "\n"))
}

func (b *builder) rootCert(c *Chunk, _ *schedState) error {
	if data, ok, err := b.chunkFromFile(c.Node); ok {
		c.Data, c.Finished = data, err == nil
		return err
	}

	var (
		root    *signing.KeyMaterial
		rootIdx int64
		bind    *certBinding
		nrv     []byte
		uc      []byte
		paths   = map[string]*trustedPath{}
	)
	pathNames := []string{"TrustedPathLicense", "TrustedPathCr7Sw", "TrustedPathCa9Sw"}

	for _, n := range c.Node.Children {
		var err error
		switch n.Name {
		case "RootPublicKey":
			idxText, ok := n.Attr("idx")
			if !ok || strings.TrimSpace(idxText) == "" {
				return errors.New("No \"idx\" set in the RootPublicKey.")
			}
			if rootIdx, err = b.evalRange(idxText, 0, 0xffff); err != nil {
				return err
			}
			root, _, err = b.rsaKey(n, false)
		case "Binding":
			bind, err = b.certBinding(n)
		case "NewRegisterValues":
			nrv, err = b.registerValues(n)
		case "TrustedPathLicense", "TrustedPathCr7Sw", "TrustedPathCa9Sw":
			paths[n.Name], err = b.trustedPath(n)
		case "UserContent":
			uc, err = userContent(n)
		default:
			err = fmt.Errorf("Unexpected node: %s", n.Name)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", n.Name, err)
		}
	}

	var errs []string
	if root == nil {
		errs = append(errs, "No key set in the RootPublicKey.")
	}
	if bind == nil {
		errs = append(errs, "No Binding set in the RootCert.")
	}
	for _, name := range pathNames {
		if paths[name] == nil {
			errs = append(errs, fmt.Sprintf("No key set in the %s.", name))
		}
	}
	if err := missing(errs); err != nil {
		return err
	}

	body := []byte{root.ID(false)}
	body = append(body, root.Mod...)
	body = append(body, root.Exp...)
	body = appendU16(body, uint16(rootIdx))
	body = append(body, bind.Mask...)
	body = append(body, bind.Ref...)
	body = append(body, byte(len(nrv)))
	body = append(body, nrv...)
	for _, name := range pathNames {
		p := paths[name]
		body = append(body, p.Mask...)
		body = append(body, p.Key.ID(false))
		body = append(body, p.Key.Mod...)
		body = append(body, p.Key.Exp...)
	}
	body = appendU32(body, uint32(len(uc)))
	body = append(body, uc...)

	der, err := b.Keyrom.Key(int(rootIdx))
	if err != nil {
		return err
	}
	return b.finishCert(c, "RCRT", der, body)
}

func (b *builder) licenseCert(c *Chunk, _ *schedState) error {
	if data, ok, err := b.chunkFromFile(c.Node); ok {
		c.Data, c.Finished = data, err == nil
		return err
	}

	var (
		der  []byte
		bind *certBinding
		nrv  []byte
		uc   []byte
	)
	for _, n := range c.Node.Children {
		var err error
		switch n.Name {
		case "Key":
			der, err = b.keyDER(n)
		case "Binding":
			bind, err = b.certBinding(n)
		case "NewRegisterValues":
			nrv, err = b.registerValues(n)
		case "UserContent":
			uc, err = userContent(n)
		default:
			err = fmt.Errorf("Unexpected node: %s", n.Name)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", n.Name, err)
		}
	}

	var errs []string
	if der == nil {
		errs = append(errs, "No key set in the LicenseCert.")
	}
	if bind == nil {
		errs = append(errs, "No Binding set in the LicenseCert.")
	}
	if err := missing(errs); err != nil {
		return err
	}

	body := append([]byte(nil), bind.Mask...)
	body = append(body, bind.Ref...)
	body = append(body, byte(len(nrv)))
	body = append(body, nrv...)
	body = appendU32(body, uint32(len(uc)))
	body = append(body, uc...)
	return b.finishCert(c, "LCRT", der, body)
}

// softwareCert builds the R7SW and A9SW certificates. cores reads the
// <Execute> child.
func (b *builder) softwareCert(c *Chunk, tag, name string, cores func(*xmltree.Node) ([]*entryPoint, error)) error {
	if data, ok, err := b.chunkFromFile(c.Node); ok {
		c.Data, c.Finished = data, err == nil
		return err
	}

	var (
		der  []byte
		bind *certBinding
		data *dataBlock
		exec []*entryPoint
		uc   []byte
	)
	for _, n := range c.Node.Children {
		var err error
		switch n.Name {
		case "Key":
			der, err = b.keyDER(n)
		case "Binding":
			bind, err = b.certBinding(n)
		case "Data":
			data, err = b.dataContents(n, true)
		case "Execute":
			exec, err = cores(n)
		case "UserContent":
			uc, err = userContent(n)
		default:
			err = fmt.Errorf("Unexpected node: %s", n.Name)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", n.Name, err)
		}
	}

	var errs []string
	if der == nil {
		errs = append(errs, fmt.Sprintf("No key set in the %s.", name))
	}
	if bind == nil {
		errs = append(errs, fmt.Sprintf("No Binding set in the %s.", name))
	}
	if data == nil {
		errs = append(errs, "No \"data\" set in the Data.")
	}
	if exec == nil {
		errs = append(errs, "No \"pfnExecFunction\" set in the Execute.")
	}
	if err := missing(errs); err != nil {
		return err
	}

	body := append([]byte(nil), bind.Mask...)
	body = append(body, bind.Ref...)
	body = appendU32(body, uint32(len(data.Data)))
	body = appendU32(body, data.LoadAddress)
	body = append(body, data.Data...)
	for _, e := range exec {
		for _, w := range e.words() {
			body = appendU32(body, w)
		}
	}
	body = appendU32(body, uint32(len(uc)))
	body = append(body, uc...)
	return b.finishCert(c, tag, der, body)
}

func (b *builder) cr7Software(c *Chunk, _ *schedState) error {
	return b.softwareCert(c, "R7SW", "CR7Software", func(n *xmltree.Node) ([]*entryPoint, error) {
		e, err := b.entryPoint(n)
		if err != nil {
			return nil, err
		}
		return []*entryPoint{e}, nil
	})
}

func (b *builder) ca9Software(c *Chunk, _ *schedState) error {
	return b.softwareCert(c, "A9SW", "CA9Software", func(n *xmltree.Node) ([]*entryPoint, error) {
		var core0, core1 *entryPoint
		for _, cn := range n.Children {
			var err error
			switch cn.Name {
			case "Core0":
				core0, err = b.entryPoint(cn)
			case "Core1":
				core1, err = b.entryPoint(cn)
			default:
				err = fmt.Errorf("Unexpected node: %s", cn.Name)
			}
			if err != nil {
				return nil, err
			}
		}
		if core0 == nil || core1 == nil {
			return nil, errors.New("The Execute node needs a Core0 and a Core1 child.")
		}
		return []*entryPoint{core0, core1}, nil
	})
}
