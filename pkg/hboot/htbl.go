package hboot

import (
	"fmt"
	"strings"

	"github.com/9elements/hboottool/pkg/xmltree"
)

// Hash table limits.
const (
	MaxHashTableEntries = 8
	MaxHashTableSize    = 65536
	// embeddedKeyLimit is the first root key index which is stored in the
	// chip. Lower indices carry the key in the table.
	embeddedKeyLimit = 16
	hashSize         = 48
)

// hashTable is the parsed <HashTable> node.
type hashTable struct {
	Entries int
	// Size is the requested size of the chunk in bytes or 0.
	Size    int
	Target  uint8
	Key     *signingKey
	RootIdx int
	Binding *infoBinding
}

func (b *builder) parseHashTable(n *xmltree.Node) (*hashTable, error) {
	t := &hashTable{}

	s, err := n.RequireAttr("entries")
	if err != nil {
		return nil, err
	}
	entries, err := b.evalRange(s, 1, MaxHashTableEntries)
	if err != nil {
		return nil, fmt.Errorf("The number of hashes is invalid: %w", err)
	}
	t.Entries = int(entries)

	if s := strings.TrimSpace(n.AttrOr("size", "")); s != "" {
		size, err := b.eval(s)
		if err != nil {
			return nil, err
		}
		switch {
		case size < 1:
			return nil, fmt.Errorf("The required size must be positive: %d", size)
		case size%4 != 0:
			return nil, fmt.Errorf("The required size must be a multiple of 4: %d", size)
		case size > MaxHashTableSize:
			return nil, fmt.Errorf("The required size must be smaller than %d: %d", MaxHashTableSize, size)
		}
		t.Size = int(size)
	}

	var hasTarget, hasRootIdx bool
	for _, c := range n.Children {
		var err error
		switch c.Name {
		case "TargetInfoPage":
			t.Target, err = targetInfoPage(c)
			hasTarget = true
		case "Key":
			t.Key, err = b.signingKey(c)
		case "RootKeyIndex":
			var idx int64
			idx, err = b.evalRange(c.Text, 0, 31)
			t.RootIdx = int(idx)
			hasRootIdx = true
		case "Binding":
			t.Binding, err = b.infoBinding(c)
		default:
			err = fmt.Errorf("Unexpected node: %s", c.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
	}

	var errs []string
	if !hasTarget {
		errs = append(errs, "No target info page set in HTBL.")
	}
	if t.Key == nil {
		errs = append(errs, "No key set in HTBL.")
	}
	if !hasRootIdx {
		errs = append(errs, "No root key index set in HTBL.")
	}
	if t.Binding == nil {
		errs = append(errs, "No binding set in HTBL.")
	}
	if err := missing(errs); err != nil {
		return nil, err
	}
	return t, nil
}

// layout returns the size of the chunk without fill and the number of fill
// words.
func (t *hashTable) layout() (int, int, error) {
	// id, length, target, root index, count, pad, value, mask
	min := 4 + 4 + 4 + 56
	if t.RootIdx < embeddedKeyLimit {
		min += KeyBlockSize
	}
	min += hashSize * t.Entries
	min += t.Key.Material.SignatureSize()
	if min%4 != 0 {
		return 0, 0, fmt.Errorf("Invalid HashTable size of %d bytes", min)
	}
	if t.Size == 0 {
		return min, 0, nil
	}
	if min > t.Size {
		return 0, 0, fmt.Errorf("The HashTable size has a minimum size of %d bytes, which exceeds the requested size of %d bytes.", min, t.Size)
	}
	return min, (t.Size - min) / 4, nil
}

func (b *builder) hashTable(c *Chunk, st *schedState) error {
	t, err := b.parseHashTable(c.Node)
	if err != nil {
		return err
	}
	min, fill, err := t.layout()
	if err != nil {
		return err
	}

	if st.Pass == 0 {
		c.Data = make([]byte, min+fill*4)
		c.Finished = false
		return nil
	}

	first := st.Index + 1
	last := first + t.Entries
	if last > len(st.Chunks) {
		return fmt.Errorf("The hash table should include the chunks [%d,%d[ but there are only %d chunks.", first, last, len(st.Chunks))
	}
	refs := st.Chunks[first:last]
	for _, r := range refs {
		if !hashTableKinds[r.Kind] {
			return fmt.Errorf("A %q chunk can not be included in a HashTable.", r.Kind)
		}
	}
	for _, r := range refs {
		if !r.Finished {
			return nil
		}
	}

	buf := appendU32(nil, Tag("HTBL"))
	buf = appendU32(buf, uint32((min+fill*4)/4-2))
	buf = append(buf, t.Target, byte(t.RootIdx), byte(t.Entries), 0)
	buf = append(buf, t.Binding.Value...)
	buf = append(buf, t.Binding.Mask...)
	if t.RootIdx < embeddedKeyLimit {
		block, err := b.keyBlock(t.Key.Material)
		if err != nil {
			return err
		}
		buf = append(buf, block...)
	}
	for _, r := range refs {
		buf = append(buf, r.Hash...)
	}
	buf = append(buf, make([]byte, fill*4)...)

	sig, err := b.sign(t.Key.Material, t.Key.DER, buf)
	if err != nil {
		return err
	}
	c.Data = append(buf, sig...)
	c.Finished = true
	return nil
}
