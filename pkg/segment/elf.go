package segment

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"sort"
)

// MaxImageSize is the largest flat binary extracted from an ELF file.
const MaxImageSize = 0x20000000

// Image is the flat binary of the loadable sections of an ELF file.
type Image struct {
	Data []byte
	// LoadAddress is the lowest load address of the included sections.
	LoadAddress uint32
}

type loadable struct {
	name string
	lma  uint64
	sec  *elf.Section
}

// sectionLMA maps a section to its load address through the program
// header that contains it.
func sectionLMA(f *elf.File, s *elf.Section) uint64 {
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		if s.Offset >= p.Off && s.Offset+s.Size <= p.Off+p.Filesz {
			return p.Paddr + (s.Offset - p.Off)
		}
	}
	return s.Addr
}

// ReadELF extracts the allocated sections with contents of an ELF file as
// one flat binary starting at the lowest load address. Gaps are filled with
// zeros. If sections is not empty only the named sections are considered.
func (f *Files) ReadELF(path string, sections []string) (*Image, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	want := make(map[string]bool)
	for _, s := range sections {
		want[s] = true
	}

	var secs []loadable
	for _, s := range ef.Sections {
		if len(want) > 0 && !want[s.Name] {
			continue
		}
		if s.Flags&elf.SHF_ALLOC == 0 || s.Type == elf.SHT_NOBITS || s.Size == 0 {
			continue
		}
		secs = append(secs, loadable{name: s.Name, lma: sectionLMA(ef, s), sec: s})
	}
	for name := range want {
		found := false
		for _, s := range secs {
			if s.name == name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%s: no loadable section %q", path, name)
		}
	}
	if len(secs) == 0 {
		return nil, fmt.Errorf("%s: failed to extract load address", path)
	}

	sort.Slice(secs, func(i, j int) bool { return secs[i].lma < secs[j].lma })
	base := secs[0].lma
	var end uint64
	for _, s := range secs {
		if e := s.lma + s.sec.Size - base; e > end {
			end = e
		}
	}
	if end >= MaxImageSize {
		return nil, errors.New("The resulting file seems to extend 512MBytes. Too scared to continue!")
	}
	if base > 0xffffffff {
		return nil, fmt.Errorf("%s: load address 0x%x exceeds 32 bits", path, base)
	}

	data := make([]byte, end)
	for _, s := range secs {
		r := s.sec.Open()
		if _, err := io.ReadFull(r, data[s.lma-base:s.lma-base+s.sec.Size]); err != nil {
			return nil, fmt.Errorf("%s: section %s: %v", path, s.name, err)
		}
	}
	return &Image{Data: data, LoadAddress: uint32(base)}, nil
}

// Symbol returns the value of a global or weak symbol.
func (f *Files) Symbol(path, name string) (uint32, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return 0, err
	}
	defer ef.Close()

	syms, err := ef.Symbols()
	if err != nil {
		return 0, err
	}
	for _, s := range syms {
		if s.Name != name {
			continue
		}
		switch elf.ST_BIND(s.Info) {
		case elf.STB_GLOBAL, elf.STB_WEAK:
			return uint32(s.Value), nil
		}
	}
	return 0, fmt.Errorf("%s: global symbol %q not found", path, name)
}
