package main

import (
	"flag"
	"strconv"

	"gopkg.in/alecthomas/kingpin.v2"
	"k8s.io/klog/v2"
)

const (
	// Author is the author
	Author = "9elements"
	// HelpText is the command line help
	HelpText = "A compiler for netX HBoot secure boot images"
)

var goversion string

var (
	verbose = kingpin.Flag("verbose", "Log verbosity").Short('v').Default("0").Int()

	// CommandLine Arguments
	compileCommand               = kingpin.Command("compile", "Compile an image description into an HBoot image")
	compileCommandNetx           = compileCommand.Flag("netx", "netX type, e.g. NETX90 or NETX4000").Short('n').String()
	compileCommandPatchTable     = compileCommand.Flag("patch-table", "Patch table with the constants and options").Short('p').String()
	compileCommandKeyrom         = compileCommand.Flag("keyrom", "Keyrom XML with the root keys").Short('k').String()
	compileCommandAliases        = compileCommand.Flag("alias", "Known file ALIAS=FILE, referenced as @ALIAS").Short('A').Strings()
	compileCommandDefines        = compileCommand.Flag("define", "Define NAME=VALUE for %%NAME%% markers").Short('D').Strings()
	compileCommandIncludes       = compileCommand.Flag("include", "Include path for files").Short('I').Strings()
	compileCommandOpenSSLOptions = compileCommand.Flag("openssl-options", "Extra options for the openssl signer").Strings()
	compileCommandSigner         = compileCommand.Flag("signer", "Signing backend").Enum(SignerOpenSSL, SignerNative)
	compileCommandConfig         = compileCommand.Flag("config", "Build config with the defaults").Short('c').String()
	compileCommandLayout         = compileCommand.Flag("layout", "Print the chunk layout as YAML").Bool()
	compileCommandInput          = compileCommand.Arg("input", "Image description").Required().String()
	compileCommandOutput         = compileCommand.Arg("output", "Image file").Required().String()

	batchCommand       = kingpin.Command("batch", "Compile all images of a build config")
	batchCommandJobs   = batchCommand.Flag("jobs", "Number of images compiled in parallel").Short('j').Default(strconv.Itoa(DefaultJobs)).Int()
	batchCommandConfig = batchCommand.Arg("config", "Build config").Required().String()

	keyinfoCommand       = kingpin.Command("keyinfo", "Show the boot ROM view of a DER key")
	keyinfoCommandPublic = keyinfoCommand.Flag("public", "The key is a public key").Bool()
	keyinfoCommandNetx   = keyinfoCommand.Flag("netx", "netX type").Short('n').Default("NETX90").String()
	keyinfoCommandSigner = keyinfoCommand.Flag("signer", "Signing backend").Default(SignerNative).Enum(SignerOpenSSL, SignerNative)
	keyinfoCommandKey    = keyinfoCommand.Arg("key", "DER key file").Required().String()

	depsCommand        = kingpin.Command("deps", "List the files an image description depends on")
	depsCommandAliases = depsCommand.Flag("alias", "Known file ALIAS=FILE, referenced as @ALIAS").Short('A').Strings()
	depsCommandDefines = depsCommand.Flag("define", "Define NAME=VALUE for %%NAME%% markers").Short('D').Strings()
	depsCommandInput   = depsCommand.Arg("input", "Image description").Required().String()

	optionsCommand = kingpin.Command("options", "Work with option streams")

	optionsCommandDecode           = optionsCommand.Command("decode", "Decode a compiled option stream")
	optionsCommandDecodePatchTable = optionsCommandDecode.Flag("patch-table", "Patch table with the options").Short('p').Required().String()
	optionsCommandDecodeFile       = optionsCommandDecode.Arg("file", "Option stream").Required().String()
)

func initLogging(v int) {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	if err := fs.Set("v", strconv.Itoa(v)); err != nil {
		klog.Warningf("Can't set the log verbosity: %v", err)
	}
}

func main() {
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(goversion).Author(Author)
	kingpin.CommandLine.Help = HelpText

	cmd := kingpin.Parse()
	initLogging(*verbose)
	defer klog.Flush()

	var err error
	switch cmd {
	case "compile":
		err = Compile()
	case "batch":
		err = Batch()
	case "keyinfo":
		err = KeyInfo()
	case "deps":
		err = Deps()
	case "options decode":
		err = OptionsDecode()
	default:
		kingpin.Usage()
	}
	if err != nil {
		klog.Exitf("%s: %v", cmd, err)
	}
}
