package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/9elements/hboottool/pkg/hboot"
	"github.com/9elements/hboottool/pkg/signing"
)

func TestLoadBuildConfig(t *testing.T) {
	want := &BuildConfig{
		Netx:     "NETX90",
		Signer:   SignerNative,
		Includes: []string{filepath.Join("tests", "keys")},
		Aliases:  map[string]string{"fw": filepath.Join("tests", "fw.bin")},
		Defines:  map[string]string{"LOAD": "0x20080000", "MSG": "hello"},
		Images: []ImageConfig{
			{
				Input:  filepath.Join("tests", "app.xml"),
				Output: filepath.Join("tests", "out", "app.bin"),
			},
			{
				Input:   filepath.Join("tests", "app.xml"),
				Output:  filepath.Join("tests", "out", "app_b.bin"),
				Netx:    "NETX90B",
				Layout:  filepath.Join("tests", "out", "app_b.yaml"),
				Defines: map[string]string{"MSG": "bye"},
			},
		},
	}
	ignore := cmpopts.IgnoreFields(BuildConfig{}, "OpenSSL", "OpenSSLOptions")

	for _, path := range []string{"tests/build.yaml", "tests/build.toml"} {
		cfg, err := LoadBuildConfig(path)
		require.NoError(t, err, path)
		if diff := cmp.Diff(want, cfg, ignore); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", path, diff)
		}
	}

	_, err := LoadBuildConfig("tests/build.ini")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := NewBuildConfig()
	cfg.Images = []ImageConfig{{Input: "a.xml"}}
	require.Error(t, cfg.Validate())
	cfg.Images[0].Output = "a.bin"
	require.NoError(t, cfg.Validate())
}

func TestAddAliasesAndDefines(t *testing.T) {
	cfg := NewBuildConfig()
	require.NoError(t, cfg.AddAliases([]string{"fw=app.elf"}))
	require.NoError(t, cfg.AddDefines([]string{"SIZE=0x100", "EMPTY="}))
	require.Equal(t, "app.elf", cfg.Aliases["fw"])
	require.Equal(t, "0x100", cfg.Defines["SIZE"])
	require.Equal(t, "", cfg.Defines["EMPTY"])

	require.Error(t, cfg.AddAliases([]string{"fw"}))
	require.Error(t, cfg.AddDefines([]string{"=1"}))
}

func TestNewSigner(t *testing.T) {
	s, err := NewSigner(SignerNative, DefaultOpenSSL, nil)
	require.NoError(t, err)
	require.Equal(t, signing.Native{}, s)

	s, err = NewSigner(SignerOpenSSL, "/usr/bin/openssl", []string{"-engine", "pkcs11"})
	require.NoError(t, err)
	require.IsType(t, &signing.OpenSSL{}, s)

	_, err = NewSigner("hsm", DefaultOpenSSL, nil)
	require.Error(t, err)
}

func TestToolchainCompiler(t *testing.T) {
	cfg := NewBuildConfig()
	cfg.Signer = SignerNative
	cfg.Defines = map[string]string{"A": "1", "B": "2"}
	tc, err := NewToolchain(cfg)
	require.NoError(t, err)

	_, err = tc.Compiler(ImageConfig{})
	require.Error(t, err)

	cfg.Netx = "netx90"
	c, err := tc.Compiler(ImageConfig{Defines: map[string]string{"B": "3"}})
	require.NoError(t, err)
	require.Equal(t, hboot.NETX90, c.Chip)
	require.Equal(t, map[string]string{"A": "1", "B": "3"}, c.Defines)

	c, err = tc.Compiler(ImageConfig{Netx: "NETX4000"})
	require.NoError(t, err)
	require.Equal(t, hboot.NETX4000, c.Chip)

	_, err = tc.Compiler(ImageConfig{Netx: "NETX10"})
	require.Error(t, err)
}

const testImage = `<HBootImage type="REGULAR">
  <Chunks>
    <Text>%%MSG%%</Text>
    <Data><UInt32 address="%%LOAD%%">1,2</UInt32></Data>
  </Chunks>
</HBootImage>`

func TestBuildAll(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "app.xml")
	require.NoError(t, os.WriteFile(input, []byte(testImage), 0o644))

	cfg := NewBuildConfig()
	cfg.Netx = "NETX90"
	cfg.Signer = SignerNative
	cfg.Defines = map[string]string{"MSG": "hi", "LOAD": "0x20080000"}
	cfg.Images = []ImageConfig{
		{Input: input, Output: filepath.Join(dir, "a.bin")},
		{
			Input:   input,
			Output:  filepath.Join(dir, "b.bin"),
			Netx:    "NETX90B",
			Layout:  filepath.Join(dir, "b.yaml"),
			Defines: map[string]string{"MSG": "bye"},
		},
	}
	require.NoError(t, BuildAll(context.Background(), cfg, 2))

	a, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0xaf, 0xbe, 0xf3}, a[:4])
	require.Equal(t, []byte("hi\x00\x00"), a[hboot.HeaderSize+8:hboot.HeaderSize+12])

	b, err := os.ReadFile(filepath.Join(dir, "b.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte("bye\x00"), b[hboot.HeaderSize+8:hboot.HeaderSize+12])

	raw, err := os.ReadFile(filepath.Join(dir, "b.yaml"))
	require.NoError(t, err)
	var layout []hboot.ChunkInfo
	require.NoError(t, yaml.Unmarshal(raw, &layout))
	require.Len(t, layout, 2)
	require.Equal(t, "Text", layout[0].Kind)
	require.Equal(t, uint32(hboot.HeaderSize), layout[0].Offset)
	require.Equal(t, "Data", layout[1].Kind)
}

func TestBuildAllFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := NewBuildConfig()
	cfg.Netx = "NETX90"
	cfg.Signer = SignerNative
	cfg.Images = []ImageConfig{
		{Input: filepath.Join(dir, "missing.xml"), Output: filepath.Join(dir, "missing.bin")},
	}
	require.Error(t, BuildAll(context.Background(), cfg, 1))
	_, err := os.Stat(filepath.Join(dir, "missing.bin"))
	require.True(t, os.IsNotExist(err))

	cfg.Images = nil
	require.Error(t, BuildAll(context.Background(), cfg, 1))
}
