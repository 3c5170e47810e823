package hboot

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/9elements/hboottool/pkg/segment"
	"github.com/9elements/hboottool/pkg/signing"
)

// fakeSigner returns a fixed RSA2048 key and derives the signature from the
// message digest.
type fakeSigner struct{}

func (fakeSigner) KeyInfo(der []byte, public bool) (*signing.KeyMaterial, error) {
	mod := make([]byte, 256)
	for i := range mod {
		mod[i] = byte(i)
	}
	return &signing.KeyMaterial{
		Algorithm: signing.RSA,
		Mod:       mod,
		Exp:       []byte{1, 0, 1},
	}, nil
}

func (fakeSigner) Sign(der []byte, alg signing.Algorithm, msg []byte) ([]byte, error) {
	sum := sha512.Sum384(msg)
	return bytes.Repeat(sum[:], 6)[:256], nil
}

func chipSig(msg []byte) []byte {
	sig, _ := fakeSigner{}.Sign(nil, signing.RSA, msg)
	signing.Reverse(sig)
	return sig
}

func newTestCompiler(t *testing.T, chip Chip) (*Compiler, string) {
	t.Helper()
	dir := t.TempDir()
	return &Compiler{
		Chip:    chip,
		Files:   segment.NewFiles(nil, []string{dir}),
		Signer:  fakeSigner{},
		Defines: map[string]string{},
	}, dir
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func compileDoc(t *testing.T, c *Compiler, doc string) *Image {
	t.Helper()
	img, err := c.Compile([]byte(doc))
	require.NoError(t, err)
	return img
}

func word(b []byte, idx int) uint32 {
	return binary.LittleEndian.Uint32(b[idx*4:])
}

// checkChunkHash verifies the trailing digest words of a hashed chunk.
func checkChunkHash(t *testing.T, c *Chunk, hashDw int) {
	t.Helper()
	body := c.Data[:len(c.Data)-hashDw*4]
	sum := sha512.Sum384(body)
	require.Equal(t, sum[:hashDw*4], c.Data[len(body):])
	require.Equal(t, sum[:], c.Hash)
}

func TestCompileDataImage(t *testing.T) {
	c, _ := newTestCompiler(t, NETX90)
	img := compileDoc(t, c, `<HBootImage type="REGULAR">
  <Chunks>
    <Data><Hex address="0x20080000">01020304 05060708</Hex></Data>
  </Chunks>
</HBootImage>`)

	require.Len(t, img.Chunks, 1)
	data := img.Chunks[0].Data
	require.Len(t, data, 24)
	require.Equal(t, Tag("DATA"), word(data, 0))
	require.Equal(t, uint32(4), word(data, 1))
	require.Equal(t, uint32(0x20080000), word(data, 2))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, data[12:20])
	checkChunkHash(t, img.Chunks[0], 1)

	out := img.Output
	require.Len(t, out, HeaderSize+24+4)
	require.Equal(t, uint32(MagicCookie), word(out, 0))
	require.Equal(t, uint32(7), word(out, 4))
	require.Equal(t, uint32(HeaderSignature), word(out, 6))
	require.Equal(t, uint32(0), word(out, 7))

	stream := out[HeaderSize:]
	sum := sha512.Sum384(stream)
	for i := 0; i < 7; i++ {
		require.Equal(t, binary.LittleEndian.Uint32(sum[i*4:]), word(out, 8+i))
	}
	require.Equal(t, img.Header.Checksum(), word(out, 15))
	require.Equal(t, []byte{0, 0, 0, 0}, out[len(out)-4:])

	require.Equal(t, []ChunkInfo{{
		Index:  0,
		Kind:   "Data",
		Offset: HeaderSize,
		Size:   24,
		Hash:   hex.EncodeToString(img.Chunks[0].Hash),
	}}, img.Layout())
}

// TestNetX90DataVector compiles a single Data chunk with a 4 byte payload at
// address 0 and compares the complete output.
func TestNetX90DataVector(t *testing.T) {
	c, _ := newTestCompiler(t, NETX90)
	img := compileDoc(t, c, `<HBootImage type="REGULAR" hashsize="1">
  <Chunks>
    <Data><UInt32 address="0x00000000">0x04030201</UInt32></Data>
  </Chunks>
</HBootImage>`)

	header := []uint32{
		0xf3beaf00, 0x00000000, 0x00000000, 0x00000000,
		0x00000006, 0x00000000, 0x484f4f4d, 0x00000000,
		0xbfb12153, 0x4724b5fc, 0x6978fdd4, 0x741c3407,
		0xa7d788bb, 0x3cff1b5f, 0xc7d474ff, 0x32dbdf6a,
	}
	var want []byte
	for _, w := range header {
		want = binary.LittleEndian.AppendUint32(want, w)
	}
	// DATA, 3 words, address 0, payload, SHA-384 word
	chunk, err := hex.DecodeString("44415441030000000000000001020304881e1bb9")
	require.NoError(t, err)
	want = append(want, chunk...)
	want = append(want, 0, 0, 0, 0)

	require.Len(t, img.Output, HeaderSize+5*4+4)
	if diff := cmp.Diff(want, img.Output); diff != "" {
		t.Errorf("Output mismatch (-want +got):\n%s", diff)
	}
}

func TestHeaderChecksum(t *testing.T) {
	var h Header
	for i := range h {
		h[i] = uint32(i + 1)
	}
	// 1 + 2 + ... + 15
	require.Equal(t, uint32(120-1)^0xffffffff, h.Checksum())

	h = Header{}
	require.Equal(t, uint32(0), h.Checksum())
}

func TestHeaderOverrides(t *testing.T) {
	c, _ := newTestCompiler(t, NETX90)
	img := compileDoc(t, c, `<HBootImage>
  <Header>
    <Value index="1">7</Value>
    <Value index="15">0x12345678</Value>
  </Header>
  <Chunks><Text>ab</Text></Chunks>
</HBootImage>`)
	require.Equal(t, uint32(7), img.Header[1])
	require.Equal(t, uint32(0x12345678), img.Header[15])
	require.Equal(t, uint32(0x12345678), word(img.Output, 15))

	_, err := c.Compile([]byte(`<HBootImage>
  <Header>
    <Value index="3">1</Value>
    <Value index="3">2</Value>
  </Header>
  <Chunks><Text>ab</Text></Chunks>
</HBootImage>`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "already set")
}

func TestFlasherParameters(t *testing.T) {
	c, _ := newTestCompiler(t, NETX90)
	img := compileDoc(t, c, `<HBootImage device="SQIROM" offset="0x1000">
  <Header set_flasher_parameters="true"/>
  <Chunks><Text>ab</Text></Chunks>
</HBootImage>`)
	require.Equal(t, uint32(0x1000), img.Header[2])
	require.Equal(t, uint32(13+0x100), img.Header[5])
	require.Equal(t, uint32(0x1040), img.Layout()[0].Offset)

	_, err := c.Compile([]byte(`<HBootImage>
  <Header set_flasher_parameters="true"/>
  <Chunks><Text>ab</Text></Chunks>
</HBootImage>`))
	require.Error(t, err)
}

func TestPaddingAndNoHeader(t *testing.T) {
	c, _ := newTestCompiler(t, NETX90)
	img := compileDoc(t, c, `<HBootImage has_header="false" has_end="no" padding_pre_size="3" padding_pre_value="0x5a">
  <Chunks><Text>abcd</Text></Chunks>
</HBootImage>`)
	require.Equal(t, []byte{0x5a, 0x5a, 0x5a}, img.Output[:3])
	require.Equal(t, img.Chunks[0].Data, img.Output[3:])
	require.Equal(t, uint32(0), img.Layout()[0].Offset)
}

func TestNetX56Header(t *testing.T) {
	c, _ := newTestCompiler(t, NETX56)
	img := compileDoc(t, c, `<HBootImage><Chunks><Text>ab</Text></Chunks></HBootImage>`)
	out := img.Output
	require.Equal(t, uint32(MagicCookieNetX56), word(out, 0))
	require.Equal(t, len(out), HeaderSize+int(word(out, 4))*4)
}

func TestAlternativeCookie(t *testing.T) {
	c, _ := newTestCompiler(t, NETX4000)
	img := compileDoc(t, c, `<HBootImage type="ALTERNATIVE"><Chunks><Text>ab</Text></Chunks></HBootImage>`)
	require.Equal(t, uint32(MagicCookieAlternative), img.Header[0])

	c, _ = newTestCompiler(t, NETX56)
	_, err := c.Compile([]byte(`<HBootImage type="ALTERNATIVE"><Chunks><Text>ab</Text></Chunks></HBootImage>`))
	require.Error(t, err)
}

func TestInvalidAttributes(t *testing.T) {
	c, _ := newTestCompiler(t, NETX90)
	for _, doc := range []string{
		`<HBootImage type="FOO"><Chunks/></HBootImage>`,
		`<HBootImage hashsize="13"><Chunks/></HBootImage>`,
		`<HBootImage offset="2"><Chunks/></HBootImage>`,
		`<HBootImage has_end="maybe"><Chunks/></HBootImage>`,
		`<HBootImage device="NAND"><Chunks/></HBootImage>`,
		`<HBootImage><Bogus/></HBootImage>`,
		`<HBootImage><Chunks><Bogus/></Chunks></HBootImage>`,
	} {
		_, err := c.Compile([]byte(doc))
		require.Error(t, err, doc)
	}
}

func TestChunkNotAllowed(t *testing.T) {
	c, _ := newTestCompiler(t, NETX56)
	_, err := c.Compile([]byte(`<HBootImage><Chunks><Register><nop/></Register></Chunks></HBootImage>`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Register chunks are not allowed on NETX56")

	c, _ = newTestCompiler(t, NETX90)
	_, err = c.Compile([]byte(`<HBootImage type="SECMEM"><Chunks><Text>ab</Text></Chunks></HBootImage>`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not allowed in the current image type")
}

func TestDeterministicOutput(t *testing.T) {
	doc := `<HBootImage hashsize="3">
  <Chunks>
    <Text>hello</Text>
    <Data><UInt32 address="0x200C0000">1,2,0xffffffff</UInt32></Data>
    <Execute><Address>0x200C0000</Address></Execute>
  </Chunks>
</HBootImage>`
	c, _ := newTestCompiler(t, NETX90B)
	a := compileDoc(t, c, doc)
	b := compileDoc(t, c, doc)
	if diff := cmp.Diff(a.Output, b.Output); diff != "" {
		t.Errorf("Output mismatch (-want +got):\n%s", diff)
	}
	for _, ch := range a.Chunks {
		checkChunkHash(t, ch, 3)
	}
}

func TestInfoPage(t *testing.T) {
	c, dir := newTestCompiler(t, NETX90)
	page := bytes.Repeat([]byte{0xa5}, InfoPageWords*4)
	writeFile(t, dir, "page.bin", page)

	img := compileDoc(t, c, `<HBootImage type="COM_INFO_PAGE">
  <Chunks><Data><File name="page.bin"/></Data></Chunks>
</HBootImage>`)
	sum := sha512.Sum384(page)
	require.Equal(t, append(append([]byte(nil), page...), sum[:]...), img.Output)

	writeFile(t, dir, "short.bin", page[:len(page)-4])
	_, err := c.Compile([]byte(`<HBootImage type="APP_INFO_PAGE">
  <Chunks><Data><File name="short.bin"/></Data></Chunks>
</HBootImage>`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "1012 DWORDs")
}

func TestDefinesInCompile(t *testing.T) {
	c, _ := newTestCompiler(t, NETX90)
	c.Defines = map[string]string{"LOAD": "0x20080000", "MSG": "hi"}
	img := compileDoc(t, c, `<HBootImage>
  <Chunks>
    <Text>%%MSG%%</Text>
    <Data><UInt8 address="%%LOAD + 4%%">1</UInt8></Data>
  </Chunks>
</HBootImage>`)
	require.Equal(t, []byte("hi\x00\x00"), img.Chunks[0].Data[8:12])
	require.Equal(t, uint32(0x20080004), word(img.Chunks[1].Data, 2))
}

func TestMissingProvider(t *testing.T) {
	c := &Compiler{Chip: NETX90}
	_, err := c.Compile([]byte(`<HBootImage><Chunks/></HBootImage>`))
	require.Error(t, err)
}
