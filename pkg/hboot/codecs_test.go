package hboot

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/9elements/hboottool/pkg/patch"
	"github.com/9elements/hboottool/pkg/signing"
)

const testPatchTable = `<?xml version="1.0" encoding="UTF-8"?>
<PatchDefinitions>
	<Options>
		<Option id="PATCH_FIXED" value="0x10">
			<Element id="value" size="4" type="0"/>
		</Option>
	</Options>
	<Definitions>
		<Definition name="SQI_CMD_READ" value="0x03"/>
	</Definitions>
</PatchDefinitions>`

func testCatalog(t *testing.T) *patch.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patch.xml")
	require.NoError(t, os.WriteFile(path, []byte(testPatchTable), 0o644))
	c, err := patch.Load(path)
	require.NoError(t, err)
	return c
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

const fixedOption = `<Option id="PATCH_FIXED"><U32>0x12345678</U32></Option>`

func TestOptionsChunk(t *testing.T) {
	for _, tc := range []struct {
		chip Chip
		want string
	}{
		// OPTS, 2 data words + 1 hash word, padded option, SHA-384 word
		{NETX90, "4f50545303000000107856341200000059cdbf36"},
		// OPTS, 2 words, option padded for the CRC-16, CRC-16 big endian
		{NETX56, "4f505453020000001078563412002bf9"},
	} {
		c, _ := newTestCompiler(t, tc.chip)
		c.Catalog = testCatalog(t)
		img := compileDoc(t, c, `<HBootImage><Chunks><Options>`+fixedOption+`</Options></Chunks></HBootImage>`)
		require.Equal(t, mustHex(t, tc.want), img.Chunks[0].Data, tc.chip)
		require.Equal(t, img.Chunks[0].Data, img.Output[HeaderSize:len(img.Output)-4], tc.chip)
	}

	c, _ := newTestCompiler(t, NETX90)
	_, err := c.Compile([]byte(`<HBootImage><Chunks><Options>` + fixedOption + `</Options></Chunks></HBootImage>`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "A patch definition is required")
}

func TestSecureMemoryImage(t *testing.T) {
	c, _ := newTestCompiler(t, NETX90)
	c.Catalog = testCatalog(t)
	img := compileDoc(t, c, `<HBootImage type="SECMEM">
  <Chunks>
    <Options>`+fixedOption+`</Options>
    <Options><Option id="PATCH_FIXED"><U32>1</U32></Option></Options>
  </Chunks>
</HBootImage>`)

	out := img.Output
	require.Len(t, out, 64)
	require.Equal(t, byte(10), out[0])
	require.Equal(t, []byte{0x10, 0x78, 0x56, 0x34, 0x12, 0x10, 0x01, 0x00, 0x00, 0x00}, out[1:11])
	require.Equal(t, make([]byte, 19), out[11:30])
	require.Equal(t, byte(SecmemZone2Revision), out[30])
	require.Equal(t, byte(0x6f), out[31])
	require.Equal(t, make([]byte, 32), out[32:])

	// 13 options of 5 bytes do not fit into 61 bytes.
	_, err := c.Compile([]byte(`<HBootImage type="SECMEM"><Chunks><Options>` +
		strings.Repeat(fixedOption, 13) + `</Options></Chunks></HBootImage>`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "too big for a SECMEM")

	_, err = c.Compile([]byte(`<HBootImage type="SECMEM"><Chunks><Text>a</Text></Chunks></HBootImage>`))
	require.Error(t, err)
}

func TestXIPChunk(t *testing.T) {
	for _, tc := range []struct {
		doc  string
		data uint32
	}{
		{`<HBootImage device="SQIROM"><Chunks><XIP><Hex address="0x64000048">01020304</Hex></XIP></Chunks></HBootImage>`, 0x04030201},
		{`<HBootImage device="SQIROM" offset="0x100"><Chunks><XIP><Hex address="0x64000148">01020304</Hex></XIP></Chunks></HBootImage>`, 0x04030201},
		{`<HBootImage device="INTFLASH"><Chunks><XIP><Hex address="0x00100048">aabbccdd</Hex></XIP></Chunks></HBootImage>`, 0xddccbbaa},
	} {
		c, _ := newTestCompiler(t, NETX90)
		img := compileDoc(t, c, tc.doc)
		data := img.Chunks[0].Data
		require.Len(t, data, 16, tc.doc)
		require.Equal(t, Tag("TEXT"), word(data, 0), tc.doc)
		require.Equal(t, uint32(2), word(data, 1), tc.doc)
		require.Equal(t, tc.data, word(data, 2), tc.doc)
		checkChunkHash(t, img.Chunks[0], 1)
	}
}

func TestXIPErrors(t *testing.T) {
	for _, tc := range []struct {
		chip Chip
		doc  string
		msg  string
	}{
		{NETX90, `<HBootImage device="SQIROM"><Chunks><XIP><Hex address="0x64000000">01020304</Hex></XIP></Chunks></HBootImage>`, "does not match the requested offset"},
		{NETX90, `<HBootImage device="SQIROM"><Chunks><Text>ab</Text><XIP><Hex address="0x64000048">01020304</Hex></XIP></Chunks></HBootImage>`, "does not match the requested offset"},
		{NETX90, `<HBootImage device="INTFLASH"><Chunks><XIP><Hex address="0x64000048">01020304</Hex></XIP></Chunks></HBootImage>`, "matches the SQIROM device"},
		{NETX90, `<HBootImage><Chunks><XIP><Hex address="0x64000048">01020304</Hex></XIP></Chunks></HBootImage>`, "matches the SQIROM device"},
		{NETX90, `<HBootImage device="SQIROM"><Chunks><XIP><Hex address="0x20000000">01020304</Hex></XIP></Chunks></HBootImage>`, "outside the available XIP regions"},
		{NETX90, `<HBootImage device="SQIROM"><Chunks><XIP><Hex>01020304</Hex></XIP></Chunks></HBootImage>`, "no address attribute"},
		{NETX4000, `<HBootImage device="SQIROM0"><Chunks><XIP><Hex address="0x14000048">01020304</Hex></XIP></Chunks></HBootImage>`, "matches the SQIROM1 device"},
		{NETX56, `<HBootImage><Chunks><XIP><Hex address="0x64000048">01020304</Hex></XIP></Chunks></HBootImage>`, "not supported"},
	} {
		c, _ := newTestCompiler(t, tc.chip)
		_, err := c.Compile([]byte(tc.doc))
		require.Error(t, err, tc.doc)
		require.Contains(t, err.Error(), tc.msg, tc.doc)
	}
}

func TestDaXZChunk(t *testing.T) {
	c, _ := newTestCompiler(t, NETX90)
	img := compileDoc(t, c, `<HBootImage>
  <Chunks>
    <DaXZ working_address="0x20080000"><Hex address="0x20090000">aabbcc</Hex></DaXZ>
  </Chunks>
</HBootImage>`)
	data := img.Chunks[0].Data
	require.Len(t, data, 24)
	require.Equal(t, Tag("DAXZ"), word(data, 0))
	require.Equal(t, uint32(4), word(data, 1))
	require.Equal(t, uint32(0x20080000), word(data, 2))
	require.Equal(t, uint32(0x20090000), word(data, 3))
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0x00}, data[16:20])
	checkChunkHash(t, img.Chunks[0], 1)

	for _, doc := range []string{
		`<HBootImage><Chunks><DaXZ><Hex address="0">00</Hex></DaXZ></Chunks></HBootImage>`,
		`<HBootImage><Chunks><DaXZ working_address="0"><Hex>00</Hex></DaXZ></Chunks></HBootImage>`,
		`<HBootImage><Chunks><DaXZ working_address="0x100000000"><Hex address="0">00</Hex></DaXZ></Chunks></HBootImage>`,
	} {
		_, err := c.Compile([]byte(doc))
		require.Error(t, err, doc)
	}

	c, _ = newTestCompiler(t, NETX4000)
	_, err := c.Compile([]byte(`<HBootImage><Chunks><DaXZ working_address="0"><Hex address="0">00</Hex></DaXZ></Chunks></HBootImage>`))
	require.Error(t, err)
}

func TestSpiMacroChunk(t *testing.T) {
	c, _ := newTestCompiler(t, NETX90)
	c.Catalog = testCatalog(t)
	img := compileDoc(t, c, `<HBootImage>
  <Chunks>
    <SpiMacro device="1">
      start: SQI_CMD_READ, 0x00
      0x01, start
    </SpiMacro>
  </Chunks>
</HBootImage>`)
	data := img.Chunks[0].Data
	require.Len(t, data, 20)
	require.Equal(t, Tag("SPIM"), word(data, 0))
	require.Equal(t, uint32(3), word(data, 1))
	require.Equal(t, []byte{0x01, 0x04, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00}, data[8:16])
	checkChunkHash(t, img.Chunks[0], 1)

	for _, tc := range []struct {
		doc string
		msg string
	}{
		{`<HBootImage><Chunks><SpiMacro>0x01</SpiMacro></Chunks></HBootImage>`, "no device attribute"},
		{`<HBootImage><Chunks><SpiMacro device="0x100">0x01</SpiMacro></Chunks></HBootImage>`, "out of range"},
		{`<HBootImage><Chunks><SpiMacro device="0">0x100</SpiMacro></Chunks></HBootImage>`, "out of range"},
		{`<HBootImage><Chunks><SpiMacro device="0">` + strings.Repeat("0x01,", 256) + `</SpiMacro></Chunks></HBootImage>`, "too long"},
	} {
		_, err := c.Compile([]byte(tc.doc))
		require.Error(t, err, tc.doc)
		require.Contains(t, err.Error(), tc.msg, tc.doc)
	}
}

func TestExecuteCA9Chunk(t *testing.T) {
	for _, tc := range []struct {
		doc  string
		want []uint32
	}{
		{
			`<ExecuteCA9>
      <Core0><Address>0x1000</Address><R0>1</R0><R3>4</R3></Core0>
      <Core1><Address>0x2000</Address><R1>2</R1></Core1>
    </ExecuteCA9>`,
			[]uint32{0x1000, 1, 0, 0, 4, 0x2000, 0, 2, 0, 0},
		},
		{
			`<ExecuteCA9><Core1><Address>0x2000</Address></Core1></ExecuteCA9>`,
			[]uint32{0, 0, 0, 0, 0, 0x2000, 0, 0, 0, 0},
		},
	} {
		c, _ := newTestCompiler(t, NETX4000)
		img := compileDoc(t, c, `<HBootImage><Chunks>`+tc.doc+`</Chunks></HBootImage>`)
		data := img.Chunks[0].Data
		require.Len(t, data, 4*13, tc.doc)
		require.Equal(t, Tag("EXA9"), word(data, 0), tc.doc)
		require.Equal(t, uint32(11), word(data, 1), tc.doc)
		got := make([]uint32, 10)
		for i := range got {
			got[i] = word(data, 2+i)
		}
		require.Equal(t, tc.want, got, tc.doc)
		checkChunkHash(t, img.Chunks[0], 1)
	}

	c, _ := newTestCompiler(t, NETX4000)
	for _, doc := range []string{
		`<HBootImage><Chunks><ExecuteCA9><Core2><Address>0</Address></Core2></ExecuteCA9></Chunks></HBootImage>`,
		`<HBootImage><Chunks><ExecuteCA9><Core0><R0>1</R0></Core0></ExecuteCA9></Chunks></HBootImage>`,
	} {
		_, err := c.Compile([]byte(doc))
		require.Error(t, err, doc)
	}

	c, _ = newTestCompiler(t, NETX90)
	_, err := c.Compile([]byte(`<HBootImage><Chunks><ExecuteCA9><Core0><Address>0</Address></Core0></ExecuteCA9></Chunks></HBootImage>`))
	require.Error(t, err)
}

var (
	testMask    = strings.Repeat("ff", 64)
	testRef     = strings.Repeat("01", 64)
	testBinding = `<Binding><Mask>` + testMask + `</Mask><Ref>` + testRef + `</Ref></Binding>`
)

// checkCert verifies the tag and the length of a certificate and returns
// its body. The signature of the test signer follows the body unreversed.
func checkCert(t *testing.T, c *Chunk, tag string, bodySize int) []byte {
	t.Helper()
	data := c.Data
	size := (bodySize + 256 + 3) / 4 * 4
	require.Len(t, data, 8+size)
	require.Equal(t, Tag(tag), word(data, 0))
	require.Equal(t, uint32(size/4), word(data, 1))
	body := data[8 : 8+bodySize]
	require.Equal(t, bytes.Repeat([]byte{0xff}, 64), body[:64])
	require.Equal(t, bytes.Repeat([]byte{0x01}, 64), body[64:128])

	sig, err := fakeSigner{}.Sign(nil, signing.RSA, body)
	require.NoError(t, err)
	require.Equal(t, sig, data[8+bodySize:8+bodySize+256])
	require.Nil(t, c.Hash)
	return body
}

func TestSoftwareCerts(t *testing.T) {
	c, dir := newTestCompiler(t, NETX4000)
	writeFile(t, dir, "key.der", []byte{0x30, 0x00})

	img := compileDoc(t, c, `<HBootImage>
  <Chunks>
    <CR7Software>
      <Key><File name="key.der"/></Key>
      `+testBinding+`
      <Data><Hex address="0x04000000">01020304</Hex></Data>
      <Execute><Address>0x04000001</Address><R2>7</R2></Execute>
      <UserContent><Text>ab</Text></UserContent>
    </CR7Software>
  </Chunks>
</HBootImage>`)
	body := checkCert(t, img.Chunks[0], "R7SW", 166)
	require.Equal(t, []byte{4, 0, 0, 0, 0, 0, 0, 4, 1, 2, 3, 4}, body[128:140])
	require.Equal(t, []byte{
		1, 0, 0, 4,
		0, 0, 0, 0,
		0, 0, 0, 0,
		7, 0, 0, 0,
		0, 0, 0, 0,
	}, body[140:160])
	require.Equal(t, []byte{2, 0, 0, 0, 'a', 'b'}, body[160:166])

	img = compileDoc(t, c, `<HBootImage>
  <Chunks>
    <CA9Software>
      <Key><File name="key.der"/></Key>
      `+testBinding+`
      <Data><Hex address="0x05000000">aabbccdd</Hex></Data>
      <Execute>
        <Core0><Address>0x05000000</Address></Core0>
        <Core1><Address>0x05000100</Address><R0>1</R0></Core1>
      </Execute>
    </CA9Software>
  </Chunks>
</HBootImage>`)
	body = checkCert(t, img.Chunks[0], "A9SW", 184)
	require.Equal(t, []byte{4, 0, 0, 0, 0, 0, 0, 5, 0xaa, 0xbb, 0xcc, 0xdd}, body[128:140])
	require.Equal(t, uint32(0x05000000), word(body[140:], 0))
	require.Equal(t, uint32(0x05000100), word(body[140:], 5))
	require.Equal(t, uint32(1), word(body[140:], 6))
	require.Equal(t, []byte{0, 0, 0, 0}, body[180:184])

	for _, tc := range []struct {
		doc string
		msg string
	}{
		{`<CA9Software><Key><File name="key.der"/></Key>` + testBinding + `<Data><Hex address="0">00</Hex></Data><Execute><Core0><Address>0</Address></Core0></Execute></CA9Software>`, "Core0 and a Core1"},
		{`<CR7Software><Key><File name="key.der"/></Key><Data><Hex address="0">00</Hex></Data><Execute><Address>0</Address></Execute></CR7Software>`, "No Binding set in the CR7Software."},
		{`<CR7Software>` + testBinding + `<Data><Hex address="0">00</Hex></Data><Execute><Address>0</Address></Execute></CR7Software>`, "No key set in the CR7Software."},
		{`<CR7Software><Key><File name="key.der"/></Key>` + testBinding + `<Execute><Address>0</Address></Execute></CR7Software>`, "No \"data\" set in the Data."},
		{`<CR7Software><Key><File name="key.der"/></Key>` + testBinding + `<Data><Hex address="0">00</Hex></Data></CR7Software>`, "pfnExecFunction"},
	} {
		_, err := c.Compile([]byte(`<HBootImage><Chunks>` + tc.doc + `</Chunks></HBootImage>`))
		require.Error(t, err, tc.doc)
		require.Contains(t, err.Error(), tc.msg, tc.doc)
	}
}

func TestRootCert(t *testing.T) {
	c, dir := newTestCompiler(t, NETX4000)
	writeFile(t, dir, "key.der", []byte{0x30, 0x00})
	kr, err := signing.ReadKeyrom(strings.NewReader(`<KeyROM><Entry index="1"><Key>MAA=</Key><Hash>00</Hash></Entry></KeyROM>`))
	require.NoError(t, err)
	c.Keyrom = kr

	path := func(name string) string {
		return `<` + name + `><File name="key.der"/><Mask>` + testMask + `</Mask></` + name + `>`
	}
	img := compileDoc(t, c, `<HBootImage>
  <Chunks>
    <RootCert>
      <RootPublicKey idx="1"/>
      `+testBinding+`
      `+path("TrustedPathLicense")+`
      `+path("TrustedPathCr7Sw")+`
      `+path("TrustedPathCa9Sw")+`
      <UserContent><Hex>beef</Hex></UserContent>
    </RootCert>
  </Chunks>
</HBootImage>`)

	// id, modulus, exponent, index, binding, register values, 3 trusted
	// paths, user content
	const bodySize = 1 + 256 + 3 + 2 + 128 + 1 + 3*(64+1+256+3) + 4 + 2
	data := img.Chunks[0].Data
	size := (bodySize + 256 + 3) / 4 * 4
	require.Len(t, data, 8+size)
	require.Equal(t, Tag("RCRT"), word(data, 0))
	require.Equal(t, uint32(size/4), word(data, 1))

	body := data[8 : 8+bodySize]
	key, err := fakeSigner{}.KeyInfo(nil, false)
	require.NoError(t, err)
	require.Equal(t, byte(0), body[0])
	require.Equal(t, key.Mod, body[1:257])
	require.Equal(t, []byte{1, 0, 1}, body[257:260])
	require.Equal(t, []byte{1, 0}, body[260:262])
	require.Equal(t, bytes.Repeat([]byte{0xff}, 64), body[262:326])
	require.Equal(t, bytes.Repeat([]byte{0x01}, 64), body[326:390])
	require.Equal(t, byte(0), body[390])

	p := body[391:]
	for i := 0; i < 3; i++ {
		require.Equal(t, bytes.Repeat([]byte{0xff}, 64), p[:64])
		require.Equal(t, byte(0), p[64])
		require.Equal(t, key.Mod, p[65:321])
		require.Equal(t, []byte{1, 0, 1}, p[321:324])
		p = p[324:]
	}
	require.Equal(t, []byte{2, 0, 0, 0, 0xbe, 0xef}, p)

	sig, err := fakeSigner{}.Sign(nil, signing.RSA, body)
	require.NoError(t, err)
	require.Equal(t, sig, data[8+bodySize:8+bodySize+256])

	_, err = c.Compile([]byte(`<HBootImage><Chunks><RootCert><RootPublicKey idx="1"/>` + testBinding + `</RootCert></Chunks></HBootImage>`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "No key set in the TrustedPathLicense.")

	_, err = c.Compile([]byte(`<HBootImage><Chunks><RootCert><RootPublicKey idx="2"/></RootCert></Chunks></HBootImage>`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Key 2 was not found!")
}
