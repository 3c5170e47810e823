package signing

import (
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Signer extracts key material and signs data with DER encoded keys.
type Signer interface {
	// KeyInfo returns the key material of a DER key. public selects a
	// SubjectPublicKeyInfo instead of a private key.
	KeyInfo(der []byte, public bool) (*KeyMaterial, error)
	// Sign signs msg with SHA-384. RSA keys use PSS with a salt as long as
	// the digest and return the big endian signature. ECC keys return the
	// DER encoded ECDSA signature.
	Sign(der []byte, alg Algorithm, msg []byte) ([]byte, error)
}

// ChipSignature converts the output of Sign into the layout the netX90
// boot ROM verifies: RSA signatures are reversed, ECDSA signatures become
// R||S with each half little endian and as long as the key coordinates.
func ChipSignature(k *KeyMaterial, sig []byte) ([]byte, error) {
	switch k.Algorithm {
	case RSA:
		out := append([]byte(nil), sig...)
		Reverse(out)
		return out, nil
	case ECC:
		return ECDSAToRaw(sig, len(k.Qx))
	}
	return nil, fmt.Errorf("Unknown key algorithm %d", k.Algorithm)
}

// ECDSAToRaw converts a DER ECDSA signature into little endian R||S with
// size bytes per half.
func ECDSAToRaw(sig []byte, size int) ([]byte, error) {
	var (
		inner cryptobyte.String
		r, s  = new(big.Int), new(big.Int)
	)
	input := cryptobyte.String(sig)
	if !input.ReadASN1(&inner, cryptobyte_asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, errors.New("Invalid ECDSA signature")
	}
	if r.Sign() < 0 || s.Sign() < 0 {
		return nil, errors.New("Invalid ECDSA signature")
	}
	if r.BitLen() > size*8 {
		return nil, fmt.Errorf("The R field is too big. Expected %d bytes, but got %d", size, (r.BitLen()+7)/8)
	}
	if s.BitLen() > size*8 {
		return nil, fmt.Errorf("The S field is too big. Expected %d bytes, but got %d", size, (s.BitLen()+7)/8)
	}
	return append(leBytes(r, size), leBytes(s, size)...), nil
}
