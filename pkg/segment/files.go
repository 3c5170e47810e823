// Package segment locates the files referenced by an image description and
// extracts their loadable contents.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Files resolves file names against aliases and include paths.
type Files struct {
	// Aliases maps a file id to a path. Names starting with '@' refer to
	// an alias.
	Aliases map[string]string
	// IncludePaths are searched after the working directory.
	IncludePaths []string
}

// NewFiles returns a resolver with the given aliases and include paths.
func NewFiles(aliases map[string]string, includes []string) *Files {
	if aliases == nil {
		aliases = make(map[string]string)
	}
	return &Files{Aliases: aliases, IncludePaths: includes}
}

// AddAlias registers id for path. An id may be registered only once.
func (f *Files) AddAlias(id, path string) error {
	if _, ok := f.Aliases[id]; ok {
		return fmt.Errorf("Double defined alias %q", id)
	}
	f.Aliases[id] = path
	return nil
}

// ParseAlias splits an ALIAS=FILE definition.
func ParseAlias(def string) (string, string, error) {
	parts := strings.SplitN(def, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("Invalid alias definition %q, expected ALIAS=FILE", def)
	}
	return parts[0], parts[1], nil
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Resolve maps an alias reference to its path and returns other names
// unchanged.
func (f *Files) Resolve(name string) (string, error) {
	if strings.HasPrefix(name, "@") {
		p, ok := f.Aliases[name[1:]]
		if !ok {
			return "", fmt.Errorf("Unknown reference to file ID %q", name)
		}
		return p, nil
	}
	return name, nil
}

// Find returns the absolute path of name. Aliases are looked up directly,
// other names are tried in the working directory and then in every include
// path.
func (f *Files) Find(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("Empty file name")
	}
	if strings.HasPrefix(name, "@") {
		p, err := f.Resolve(name)
		if err != nil {
			return "", err
		}
		return filepath.Abs(p)
	}
	if readable(name) {
		return filepath.Abs(name)
	}
	for _, inc := range f.IncludePaths {
		p := filepath.Join(inc, name)
		if readable(p) {
			return filepath.Abs(p)
		}
	}
	return "", fmt.Errorf("Failed to read file %q: file not found", name)
}

// ReadFile finds name and returns its contents.
func (f *Files) ReadFile(name string) ([]byte, error) {
	p, err := f.Find(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}
