package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/koding/multiconfig"
	"github.com/xyproto/env/v2"
	"k8s.io/klog/v2"

	"github.com/9elements/hboottool/pkg/hboot"
	"github.com/9elements/hboottool/pkg/patch"
	"github.com/9elements/hboottool/pkg/segment"
	"github.com/9elements/hboottool/pkg/signing"
)

// BuildConfig describes the tools and the images of a build
type BuildConfig struct {
	Netx           string            `yaml:"netx" toml:"netx"`
	PatchTable     string            `yaml:"patch_table" toml:"patch_table"`
	Keyrom         string            `yaml:"keyrom" toml:"keyrom"`
	Includes       []string          `yaml:"includes" toml:"includes"`
	Aliases        map[string]string `yaml:"aliases" toml:"aliases"`
	Defines        map[string]string `yaml:"defines" toml:"defines"`
	OpenSSL        string            `yaml:"openssl" toml:"openssl"`
	OpenSSLOptions []string          `yaml:"openssl_options" toml:"openssl_options"`
	Signer         string            `yaml:"signer" toml:"signer"`
	Images         []ImageConfig     `yaml:"images" toml:"images"`
}

// ImageConfig is one image of a build
type ImageConfig struct {
	Input  string `yaml:"input" toml:"input"`
	Output string `yaml:"output" toml:"output"`
	// Netx overrides the netX type of the build
	Netx    string            `yaml:"netx" toml:"netx"`
	Defines map[string]string `yaml:"defines" toml:"defines"`
	// Layout is an optional YAML file receiving the chunk layout
	Layout string `yaml:"layout" toml:"layout"`
}

// NewBuildConfig returns a config with the defaults taken from the
// environment
func NewBuildConfig() *BuildConfig {
	return &BuildConfig{
		Aliases: make(map[string]string),
		Defines: make(map[string]string),
		OpenSSL: env.Str(EnvOpenSSL, DefaultOpenSSL),
		Signer:  env.Str(EnvSigner, SignerOpenSSL),
	}
}

// LoadBuildConfig reads a YAML or TOML build config from disk. Relative
// paths in the config are resolved against the directory of the config.
func LoadBuildConfig(path string) (*BuildConfig, error) {
	var loader multiconfig.Loader
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		loader = &multiconfig.YAMLLoader{Path: path}
	case ".toml":
		loader = &multiconfig.TOMLLoader{Path: path}
	default:
		return nil, fmt.Errorf("Unknown config format: %s", path)
	}

	cfg := NewBuildConfig()
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if cfg.Aliases == nil {
		cfg.Aliases = make(map[string]string)
	}
	if cfg.Defines == nil {
		cfg.Defines = make(map[string]string)
	}

	base := filepath.Dir(path)
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	cfg.PatchTable = rel(cfg.PatchTable)
	cfg.Keyrom = rel(cfg.Keyrom)
	for i := range cfg.Includes {
		cfg.Includes[i] = rel(cfg.Includes[i])
	}
	for k, v := range cfg.Aliases {
		cfg.Aliases[k] = rel(v)
	}
	for i := range cfg.Images {
		img := &cfg.Images[i]
		img.Input = rel(img.Input)
		img.Output = rel(img.Output)
		img.Layout = rel(img.Layout)
	}
	return cfg, cfg.Validate()
}

// Validate checks the config for missing values
func (cfg *BuildConfig) Validate() error {
	for i, img := range cfg.Images {
		if img.Input == "" {
			return fmt.Errorf("Image %d has no input", i)
		}
		if img.Output == "" {
			return fmt.Errorf("Image %d has no output", i)
		}
	}
	return nil
}

// AddAliases parses ALIAS=FILE definitions into the config
func (cfg *BuildConfig) AddAliases(defs []string) error {
	for _, def := range defs {
		id, path, err := segment.ParseAlias(def)
		if err != nil {
			return err
		}
		cfg.Aliases[id] = path
	}
	return nil
}

// AddDefines parses NAME=VALUE definitions into the config
func (cfg *BuildConfig) AddDefines(defs []string) error {
	for _, def := range defs {
		name, value, err := hboot.ParseDefine(def)
		if err != nil {
			return err
		}
		cfg.Defines[name] = value
	}
	return nil
}

// NewSigner returns the signing backend selected by name
func NewSigner(name, openssl string, options []string) (signing.Signer, error) {
	switch name {
	case "", SignerOpenSSL:
		return signing.NewOpenSSL(openssl, options), nil
	case SignerNative:
		return signing.Native{}, nil
	}
	return nil, fmt.Errorf("Unknown signer %q, valid signers are %s and %s", name, SignerOpenSSL, SignerNative)
}

// Toolchain holds the loaded collaborators shared by all images of a build
type Toolchain struct {
	Config  *BuildConfig
	Catalog *patch.Catalog
	Keyrom  *signing.Keyrom
	Files   *segment.Files
	Signer  signing.Signer
}

// NewToolchain loads the patch table and the keyrom of cfg
func NewToolchain(cfg *BuildConfig) (*Toolchain, error) {
	t := &Toolchain{
		Config: cfg,
		Files:  segment.NewFiles(nil, cfg.Includes),
	}
	for id, path := range cfg.Aliases {
		if err := t.Files.AddAlias(id, path); err != nil {
			return nil, err
		}
	}

	var err error
	if cfg.PatchTable != "" {
		if t.Catalog, err = patch.Load(cfg.PatchTable); err != nil {
			return nil, fmt.Errorf("Failed to load the patch table %s: %w", cfg.PatchTable, err)
		}
	}
	if cfg.Keyrom != "" {
		if t.Keyrom, err = signing.LoadKeyrom(cfg.Keyrom); err != nil {
			return nil, fmt.Errorf("Failed to load the keyrom %s: %w", cfg.Keyrom, err)
		}
	}
	if t.Signer, err = NewSigner(cfg.Signer, cfg.OpenSSL, cfg.OpenSSLOptions); err != nil {
		return nil, err
	}
	return t, nil
}

// Compiler returns an image compiler for img. Image defines override the
// defines of the build.
func (t *Toolchain) Compiler(img ImageConfig) (*hboot.Compiler, error) {
	netx := img.Netx
	if netx == "" {
		netx = t.Config.Netx
	}
	if netx == "" {
		return nil, errors.New("No netX type specified")
	}
	chip, err := hboot.ParseChip(netx)
	if err != nil {
		return nil, err
	}

	defines := make(map[string]string, len(t.Config.Defines)+len(img.Defines))
	for k, v := range t.Config.Defines {
		defines[k] = v
	}
	for k, v := range img.Defines {
		defines[k] = v
	}
	return &hboot.Compiler{
		Chip:    chip,
		Catalog: t.Catalog,
		Files:   t.Files,
		Signer:  t.Signer,
		Keyrom:  t.Keyrom,
		Defines: defines,
	}, nil
}

// Build compiles one image and writes it to disk. Nothing is written if the
// compilation fails.
func (t *Toolchain) Build(img ImageConfig) (*hboot.Image, error) {
	c, err := t.Compiler(img)
	if err != nil {
		return nil, err
	}
	input, err := os.ReadFile(img.Input)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("Compiling %s for %s", img.Input, c.Chip)
	out, err := c.Compile(input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", img.Input, err)
	}
	if err := os.WriteFile(img.Output, out.Output, DefaultFilePermissions); err != nil {
		return nil, err
	}
	if img.Layout != "" {
		if err := writeLayout(img.Layout, out); err != nil {
			return nil, err
		}
	}
	klog.Infof("Wrote %d bytes to %s", len(out.Output), img.Output)
	return out, nil
}
