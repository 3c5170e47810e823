package hboot

import (
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/9elements/hboottool/pkg/xmltree"
)

// Kind is the type of a chunk.
type Kind int

// All chunk kinds.
const (
	KindOptions Kind = iota
	KindRegister
	KindFirewall
	KindData
	KindText
	KindXIP
	KindExecute
	KindExecuteCA9
	KindSpiMacro
	KindSkip
	KindSkipIncomplete
	KindRootCert
	KindLicenseCert
	KindCR7Software
	KindCA9Software
	KindMemoryDeviceUp
	KindUpdateSecureInfoPage
	KindHashTable
	KindNext
	KindDaXZ
)

type kindInfo struct {
	name   string
	images []ImageType
	chips  []Chip
	encode func(b *builder, c *Chunk, st *schedState) error
}

var (
	imagesAll   = []ImageType{Regular, Alternative, InternalRAM, SecureMemory}
	imagesData  = []ImageType{Regular, Alternative, InternalRAM, ComInfoPage, AppInfoPage}
	imagesBoot  = []ImageType{Regular, Alternative, InternalRAM}
	chipsAll    = Chips
	chips4000   = []Chip{NETX4000Relaxed, NETX4000, NETX4100}
	chips90Rev1 = []Chip{NETX90, NETX90B}
)

// kinds is indexed by Kind.
var kinds = []kindInfo{
	KindOptions:              {"Options", imagesAll, chipsAll, (*builder).options},
	KindRegister:             {"Register", imagesBoot, chips90Rev1, (*builder).register},
	KindFirewall:             {"Firewall", imagesBoot, chips90Rev1, (*builder).firewall},
	KindData:                 {"Data", imagesData, chipsAll, (*builder).data},
	KindText:                 {"Text", imagesBoot, chipsAll, (*builder).text},
	KindXIP:                  {"XIP", imagesBoot, chipsAll, (*builder).xip},
	KindExecute:              {"Execute", imagesBoot, chipsAll, (*builder).execute},
	KindExecuteCA9:           {"ExecuteCA9", imagesBoot, chips4000, (*builder).executeCA9},
	KindSpiMacro:             {"SpiMacro", imagesBoot, chipsAll, (*builder).spiMacro},
	KindSkip:                 {"Skip", imagesBoot, chipsAll, (*builder).skip},
	KindSkipIncomplete:       {"SkipIncomplete", imagesBoot, chipsAll, (*builder).skipIncomplete},
	KindRootCert:             {"RootCert", imagesBoot, chips4000, (*builder).rootCert},
	KindLicenseCert:          {"LicenseCert", imagesBoot, chips4000, (*builder).licenseCert},
	KindCR7Software:          {"CR7Software", imagesBoot, chips4000, (*builder).cr7Software},
	KindCA9Software:          {"CA9Software", imagesBoot, chips4000, (*builder).ca9Software},
	KindMemoryDeviceUp:       {"MemoryDeviceUp", imagesBoot, chipsAll, (*builder).memoryDeviceUp},
	KindUpdateSecureInfoPage: {"UpdateSecureInfoPage", imagesBoot, chips90Rev1, (*builder).updateSecureInfoPage},
	KindHashTable:            {"HashTable", imagesBoot, chips90Rev1, (*builder).hashTable},
	KindNext:                 {"Next", imagesBoot, chips90Rev1, (*builder).next},
	KindDaXZ:                 {"DaXZ", imagesBoot, chips90Rev1, (*builder).daxz},
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kinds) {
		return kinds[k].name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// KindByName returns the chunk kind of an element name.
func KindByName(name string) (Kind, bool) {
	for k, info := range kinds {
		if info.name == name {
			return Kind(k), true
		}
	}
	return 0, false
}

// hashTableKinds may be referenced by a hash table.
var hashTableKinds = map[Kind]bool{
	KindOptions:        true,
	KindSpiMacro:       true,
	KindMemoryDeviceUp: true,
	KindFirewall:       true,
	KindSkip:           true,
	KindText:           true,
	KindXIP:            true,
	KindData:           true,
	KindRegister:       true,
	KindNext:           true,
	KindExecute:        true,
}

// Chunk is one element of the chunk stream.
type Chunk struct {
	Kind Kind
	Node *xmltree.Node
	// Finished is set once Data holds the final contents.
	Finished bool
	Data     []byte
	// Hash is the full SHA-384 digest of the chunk for kinds that carry
	// one.
	Hash []byte
}

// collectChunks resolves the children of a <Chunks> node to chunks.
func (img *Image) collectChunks(n *xmltree.Node) ([]*Chunk, error) {
	var chunks []*Chunk
	for _, cn := range n.Children {
		k, ok := KindByName(cn.Name)
		if !ok {
			return nil, fmt.Errorf("Unknown chunk ID: %s", cn.Name)
		}
		info := kinds[k]
		if !containsImage(info.images, img.Type) {
			return nil, fmt.Errorf("%s chunks are not allowed in the current image type.", info.name)
		}
		if !containsChip(info.chips, img.Chip) {
			return nil, fmt.Errorf("%s chunks are not allowed on %s", info.name, img.Chip)
		}
		chunks = append(chunks, &Chunk{Kind: k, Node: cn})
	}
	return chunks, nil
}

func containsImage(list []ImageType, t ImageType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsChip(list []Chip, c Chip) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

// Tag packs a four character chunk id.
func Tag(id string) uint32 {
	return uint32(id[0]) | uint32(id[1])<<8 | uint32(id[2])<<16 | uint32(id[3])<<24
}

// TagName unpacks a chunk id.
func TagName(tag uint32) string {
	return string([]byte{byte(tag), byte(tag >> 8), byte(tag >> 16), byte(tag >> 24)})
}

// pad4 appends zeros up to the next multiple of 4 bytes.
func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func appendU32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func appendU16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

// fillup appends data and zeros up to size bytes.
func fillup(b, data []byte, size int) []byte {
	b = append(b, data...)
	for i := len(data); i < size; i++ {
		b = append(b, 0)
	}
	return b
}

// wrap builds [tag, words, payload, digest] and finishes the chunk. The
// payload must be word aligned.
func (b *builder) wrap(c *Chunk, tag string, payload []byte) {
	buf := appendU32(nil, Tag(tag))
	buf = appendU32(buf, uint32(len(payload)/4+b.img.HashDw))
	buf = append(buf, payload...)
	b.finishHashed(c, buf)
}

// finishHashed appends the truncated SHA-384 of buf and finishes the chunk.
func (b *builder) finishHashed(c *Chunk, buf []byte) {
	sum := sha512.Sum384(buf)
	c.Data = append(buf, sum[:b.img.HashDw*4]...)
	c.Hash = sum[:]
	c.Finished = true
}
