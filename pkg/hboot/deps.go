package hboot

import (
	"github.com/9elements/hboottool/pkg/xmltree"
)

// Resolver maps file references to paths.
type Resolver interface {
	Resolve(name string) (string, error)
}

// Dependencies lists the name attribute of every <File> node in the image
// description in document order. Alias references are resolved.
func Dependencies(input []byte, defines map[string]string, r Resolver) ([]string, error) {
	text, err := Substitute(string(input), defines)
	if err != nil {
		return nil, err
	}
	root, err := xmltree.ParseBytes([]byte(text))
	if err != nil {
		return nil, err
	}

	var (
		deps    []string
		walkErr error
	)
	root.Walk(func(n *xmltree.Node) {
		if walkErr != nil || n.Name != "File" {
			return
		}
		name, ok := n.Attr("name")
		if !ok || name == "" {
			return
		}
		p, err := r.Resolve(name)
		if err != nil {
			walkErr = err
			return
		}
		deps = append(deps, p)
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return deps, nil
}
