package main

const (
	// DefaultFilePermissions is the write permission of generated files
	DefaultFilePermissions = 0o644
	// DefaultOpenSSL is the OpenSSL binary used for signing
	DefaultOpenSSL = "openssl"
	// DefaultJobs is the number of images a batch builds in parallel
	DefaultJobs = 4
)

const (
	// EnvOpenSSL overrides the OpenSSL binary
	EnvOpenSSL = "HBOOT_OPENSSL"
	// EnvSigner selects the default signing backend
	EnvSigner = "HBOOT_SIGNER"
)

const (
	// SignerOpenSSL signs by running the openssl binary
	SignerOpenSSL = "openssl"
	// SignerNative signs with the Go crypto packages
	SignerNative = "native"
)
