package hboot

import (
	"errors"
	"fmt"

	"github.com/9elements/hboottool/pkg/expr"
	"github.com/9elements/hboottool/pkg/patch"
	"github.com/9elements/hboottool/pkg/segment"
	"github.com/9elements/hboottool/pkg/signing"
	"github.com/9elements/hboottool/pkg/xmltree"
)

// Provider locates and reads the files referenced by an image.
type Provider interface {
	Resolve(name string) (string, error)
	Find(name string) (string, error)
	ReadFile(name string) ([]byte, error)
	ReadELF(path string, sections []string) (*segment.Image, error)
	Symbol(path, name string) (uint32, error)
}

// Compiler turns image descriptions into HBoot images. A Compiler may be
// shared between goroutines as long as its fields are not modified.
type Compiler struct {
	Chip Chip
	// Catalog provides the constants and the option definitions. It is
	// required for Options and SpiMacro chunks.
	Catalog *patch.Catalog
	Files   Provider
	Signer  signing.Signer
	Keyrom  *signing.Keyrom
	// Defines are substituted into %%expr%% markers of the input.
	Defines map[string]string
}

// builder holds the state of one compilation.
type builder struct {
	*Compiler
	img  *Image
	syms expr.Symbols
}

func (c *Compiler) symbols() expr.Symbols {
	if c.Catalog == nil {
		return expr.Map{}
	}
	return c.Catalog
}

// Compile translates an image description into an image.
func (c *Compiler) Compile(input []byte) (*Image, error) {
	text, err := Substitute(string(input), c.Defines)
	if err != nil {
		return nil, err
	}
	root, err := xmltree.ParseBytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("Failed to parse the image description: %w", err)
	}
	return c.CompileNode(root)
}

// CompileNode translates an already parsed image description.
func (c *Compiler) CompileNode(root *xmltree.Node) (*Image, error) {
	if c.Files == nil {
		return nil, errors.New("No file provider set")
	}
	b := &builder{
		Compiler: c,
		img:      &Image{Chip: c.Chip},
		syms:     c.symbols(),
	}
	img := b.img
	if err := img.parseAttributes(root); err != nil {
		return nil, err
	}

	haveHeader := false
	for _, n := range root.Children {
		switch n.Name {
		case "Header":
			if haveHeader {
				return nil, errors.New("More than one <Header> node found")
			}
			haveHeader = true
			if err := img.parseHeader(n, b.syms); err != nil {
				return nil, err
			}
		case "Chunks":
			chunks, err := img.collectChunks(n)
			if err != nil {
				return nil, err
			}
			img.Chunks = append(img.Chunks, chunks...)
		default:
			return nil, fmt.Errorf("Unknown element: %s", n.Name)
		}
	}

	if err := b.schedule(); err != nil {
		return nil, err
	}
	if err := b.assemble(); err != nil {
		return nil, err
	}
	return img, nil
}

func (b *builder) patchCompiler() (*patch.Compiler, error) {
	if b.Catalog == nil {
		return nil, errors.New("A patch definition is required")
	}
	return patch.NewCompiler(b.Catalog), nil
}

func (b *builder) eval(s string) (int64, error) {
	return expr.Eval(s, b.syms)
}

func (b *builder) evalRange(s string, min, max int64) (int64, error) {
	return expr.EvalRange(s, b.syms, min, max)
}

func (b *builder) evalU32(s string) (uint32, error) {
	return expr.EvalU32(s, b.syms)
}

// attrU32 evaluates a mandatory attribute as a 32 bit value.
func (b *builder) attrU32(n *xmltree.Node, name string) (uint32, error) {
	s, err := n.RequireAttr(name)
	if err != nil {
		return 0, err
	}
	return b.evalU32(s)
}

// childU32 evaluates the text of a mandatory child node.
func (b *builder) childU32(n *xmltree.Node, name string) (uint32, error) {
	c := n.Child(name)
	if c == nil {
		return 0, fmt.Errorf("No %q node found!", name)
	}
	return b.evalU32(c.Text)
}
