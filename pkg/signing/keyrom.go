package signing

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Keyrom maps key ROM indices to DER encoded key pairs.
type Keyrom struct {
	entries map[int]keyromEntry
}

type keyromEntry struct {
	key  *string
	hash *string
}

type keyromXML struct {
	Entries []struct {
		Index string  `xml:"index,attr"`
		Key   *string `xml:"Key"`
		Hash  *string `xml:"Hash"`
	} `xml:"Entry"`
}

// ReadKeyrom parses a key ROM description:
//
//	<KeyROM><Entry index="0"><Key>base64 DER</Key><Hash>...</Hash></Entry></KeyROM>
func ReadKeyrom(r io.Reader) (*Keyrom, error) {
	var doc keyromXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	k := &Keyrom{entries: make(map[int]keyromEntry)}
	for _, e := range doc.Entries {
		idx, err := strconv.ParseInt(strings.TrimSpace(e.Index), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("Invalid key ROM index %q", e.Index)
		}
		if _, ok := k.entries[int(idx)]; ok {
			return nil, fmt.Errorf("Key %d double defined!", idx)
		}
		k.entries[int(idx)] = keyromEntry{key: e.Key, hash: e.Hash}
	}
	return k, nil
}

// LoadKeyrom reads a key ROM description from disk.
func LoadKeyrom(path string) (*Keyrom, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadKeyrom(f)
}

// Key returns the DER key pair stored at idx. A nil Keyrom reports that no
// key ROM was configured.
func (k *Keyrom) Key(idx int) ([]byte, error) {
	if k == nil {
		return nil, errors.New("No Keyrom contents specified!")
	}
	e, ok := k.entries[idx]
	if !ok {
		return nil, fmt.Errorf("Key %d was not found!", idx)
	}
	if e.key == nil {
		return nil, fmt.Errorf("Key %d has no \"Key\" child!", idx)
	}
	if e.hash == nil {
		return nil, fmt.Errorf("Key %d has no \"Hash\" child!", idx)
	}
	clean := strings.Join(strings.Fields(*e.key), "")
	der, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("Key %d: %v", idx, err)
	}
	return der, nil
}
