package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"

	"github.com/9elements/hboottool/pkg/hboot"
	"github.com/9elements/hboottool/pkg/patch"
	"github.com/9elements/hboottool/pkg/signing"
)

// compileConfig merges the config file and the flags of the compile command
func compileConfig() (*BuildConfig, error) {
	cfg := NewBuildConfig()
	if *compileCommandConfig != "" {
		var err error
		if cfg, err = LoadBuildConfig(*compileCommandConfig); err != nil {
			return nil, err
		}
	}
	if *compileCommandNetx != "" {
		cfg.Netx = *compileCommandNetx
	}
	if *compileCommandPatchTable != "" {
		cfg.PatchTable = *compileCommandPatchTable
	}
	if *compileCommandKeyrom != "" {
		cfg.Keyrom = *compileCommandKeyrom
	}
	if *compileCommandSigner != "" {
		cfg.Signer = *compileCommandSigner
	}
	if len(*compileCommandOpenSSLOptions) > 0 {
		cfg.OpenSSLOptions = *compileCommandOpenSSLOptions
	}
	cfg.Includes = append(cfg.Includes, *compileCommandIncludes...)
	if err := cfg.AddAliases(*compileCommandAliases); err != nil {
		return nil, err
	}
	if err := cfg.AddDefines(*compileCommandDefines); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Compile compiles a single image description
func Compile() error {
	cfg, err := compileConfig()
	if err != nil {
		return err
	}
	t, err := NewToolchain(cfg)
	if err != nil {
		return err
	}
	img, err := t.Build(ImageConfig{
		Input:  *compileCommandInput,
		Output: *compileCommandOutput,
	})
	if err != nil {
		return err
	}
	if *compileCommandLayout {
		return printYAML(img.Layout())
	}
	return nil
}

// Batch compiles all images of a build config
func Batch() error {
	cfg, err := LoadBuildConfig(*batchCommandConfig)
	if err != nil {
		return err
	}
	return BuildAll(context.Background(), cfg, *batchCommandJobs)
}

// BuildAll compiles the images of cfg with up to jobs images in parallel.
// The first failure cancels the images which have not been started yet.
func BuildAll(ctx context.Context, cfg *BuildConfig, jobs int) error {
	if len(cfg.Images) == 0 {
		return errors.New("No images specified")
	}
	t, err := NewToolchain(cfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for _, img := range cfg.Images {
		img := img
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := t.Build(img)
			return err
		})
	}
	return g.Wait()
}

// keyInfo is the YAML view of a key
type keyInfo struct {
	Algorithm     string            `yaml:"algorithm"`
	ID            uint8             `yaml:"id"`
	SignatureSize int               `yaml:"signature_size"`
	Fields        map[string]string `yaml:"fields"`
}

func newKeyInfo(k *signing.KeyMaterial, netx90 bool) *keyInfo {
	info := &keyInfo{
		Algorithm:     k.Algorithm.String(),
		ID:            k.ID(netx90),
		SignatureSize: k.SignatureSize(),
		Fields:        make(map[string]string),
	}
	for name, v := range map[string][]byte{
		"mod": k.Mod, "exp": k.Exp, "d": k.D,
		"qx": k.Qx, "qy": k.Qy, "p": k.P, "a": k.A, "b": k.B,
		"gx": k.Gx, "gy": k.Gy, "n": k.N,
	} {
		if len(v) != 0 {
			info.Fields[name] = hex.EncodeToString(v)
		}
	}
	return info
}

// KeyInfo prints the boot ROM view of a DER key
func KeyInfo() error {
	chip, err := hboot.ParseChip(*keyinfoCommandNetx)
	if err != nil {
		return err
	}
	s, err := NewSigner(*keyinfoCommandSigner, NewBuildConfig().OpenSSL, nil)
	if err != nil {
		return err
	}
	der, err := os.ReadFile(*keyinfoCommandKey)
	if err != nil {
		return err
	}
	k, err := s.KeyInfo(der, *keyinfoCommandPublic)
	if err != nil {
		return err
	}
	return printYAML(newKeyInfo(k, chip.IsNetX90()))
}

// Deps lists the files an image description depends on
func Deps() error {
	cfg := NewBuildConfig()
	if err := cfg.AddAliases(*depsCommandAliases); err != nil {
		return err
	}
	if err := cfg.AddDefines(*depsCommandDefines); err != nil {
		return err
	}
	t, err := NewToolchain(cfg)
	if err != nil {
		return err
	}
	input, err := os.ReadFile(*depsCommandInput)
	if err != nil {
		return err
	}
	deps, err := hboot.Dependencies(input, cfg.Defines, t.Files)
	if err != nil {
		return err
	}
	for _, d := range deps {
		fmt.Println(d)
	}
	return nil
}

// decodedOption is the YAML view of an option
type decodedOption struct {
	ID       string   `yaml:"id"`
	Value    uint8    `yaml:"value"`
	Offset   uint16   `yaml:"offset,omitempty"`
	Elements []string `yaml:"elements,omitempty"`
}

// OptionsDecode prints the options of a compiled option stream
func OptionsDecode() error {
	catalog, err := patch.Load(*optionsCommandDecodePatchTable)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(*optionsCommandDecodeFile)
	if err != nil {
		return err
	}
	opts, err := catalog.Decode(data)
	if err != nil {
		return err
	}
	out := make([]decodedOption, 0, len(opts))
	for _, o := range opts {
		d := decodedOption{ID: o.ID, Value: o.Value, Offset: o.Offset}
		for _, e := range o.Elements {
			d.Elements = append(d.Elements, hex.EncodeToString(e))
		}
		out = append(out, d)
	}
	klog.V(1).Infof("Decoded %d options from %s", len(out), *optionsCommandDecodeFile)
	return printYAML(out)
}

func printYAML(v interface{}) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func writeLayout(path string, img *hboot.Image) error {
	out, err := yaml.Marshal(img.Layout())
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, DefaultFilePermissions)
}
