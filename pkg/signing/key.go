// Package signing extracts boot ROM key material from DER keys and creates
// the signatures embedded in certificates, hash tables and secure info page
// updates.
package signing

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Algorithm is the key algorithm as stored by the boot ROM.
type Algorithm uint8

const (
	// ECC is an elliptic curve key
	ECC Algorithm = 1
	// RSA is an RSA key
	RSA Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case ECC:
		return "ECC"
	case RSA:
		return "RSA"
	}
	return fmt.Sprintf("Algorithm(%d)", uint8(a))
}

// RSAExponentSize is the size of a stored public exponent.
const RSAExponentSize = 3

var rsaModulusSizes = []int{256, 384, 512}

var eccFieldSizes = []int{32, 48, 64}

// KeyMaterial holds the fields of a key in the little endian layout the
// boot ROM expects.
type KeyMaterial struct {
	Algorithm Algorithm
	// Strength is the index of the key size: 0 for RSA2048 and 256 bit
	// curves, 1 for RSA3072 and 384 bit curves, 2 for RSA4096 and 512 bit
	// curves.
	Strength int

	Mod []byte
	Exp []byte

	D        []byte
	Qx       []byte
	Qy       []byte
	P        []byte
	A        []byte
	B        []byte
	Gx       []byte
	Gy       []byte
	N        []byte
	Cofactor int64
}

// ID returns the strength id stored next to a key. The netX90 family counts
// from 1.
func (k *KeyMaterial) ID(netx90 bool) uint8 {
	if netx90 {
		return uint8(k.Strength + 1)
	}
	return uint8(k.Strength)
}

// SignatureSize returns the size of a signature made with the key in bytes.
func (k *KeyMaterial) SignatureSize() int {
	if k.Algorithm == ECC {
		return 2 * len(k.Qx)
	}
	return len(k.Mod)
}

// reversed returns a little endian copy of a big endian byte slice.
func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// Reverse reverses b in place.
func Reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func leBytes(v *big.Int, size int) []byte {
	return reversed(v.FillBytes(make([]byte, size)))
}

func rsaMaterial(n *big.Int, e int) (*KeyMaterial, error) {
	if e < 0 || e > 0xffffff {
		return nil, errors.New("The exponent exceeds the allowed range of a 24bit unsigned integer!")
	}
	mod := reversed(n.Bytes())
	strength, err := rsaStrength(len(mod))
	if err != nil {
		return nil, err
	}
	return &KeyMaterial{
		Algorithm: RSA,
		Strength:  strength,
		Mod:       mod,
		Exp:       []byte{byte(e), byte(e >> 8), byte(e >> 16)},
	}, nil
}

func rsaStrength(modSize int) (int, error) {
	for i, s := range rsaModulusSizes {
		if s == modSize {
			return i, nil
		}
	}
	var known []string
	for _, s := range rsaModulusSizes {
		known = append(known, fmt.Sprintf("RSA%d: %d bytes modulo, %d bytes public exponent", s*8, s, RSAExponentSize))
	}
	return 0, fmt.Errorf("The modulo has a size of %d bytes. These values can not be mapped to a RSA bit size. Known sizes are: %s", modSize, strings.Join(known, ", "))
}

func eccStrength(fields ...[]byte) (int, error) {
	for i, s := range eccFieldSizes {
		match := true
		for _, f := range fields {
			if len(f) != s {
				match = false
				break
			}
		}
		if match {
			return i, nil
		}
	}
	return 0, errors.New("Invalid ECC key")
}

// curve holds the domain parameters of a prime field curve.
type curve struct {
	P, A, B, Gx, Gy, N *big.Int
	Cofactor           int64
}

func (c *curve) size() int {
	return (c.P.BitLen() + 7) / 8
}

func eccMaterial(c *curve, d, x, y *big.Int) (*KeyMaterial, error) {
	size := c.size()
	k := &KeyMaterial{
		Algorithm: ECC,
		Qx:        leBytes(x, size),
		Qy:        leBytes(y, size),
		P:         leBytes(c.P, size),
		A:         leBytes(c.A, size),
		B:         leBytes(c.B, size),
		Gx:        leBytes(c.Gx, size),
		Gy:        leBytes(c.Gy, size),
		N:         leBytes(c.N, size),
		Cofactor:  c.Cofactor,
	}
	if d != nil {
		k.D = leBytes(d, size)
	}
	strength, err := eccStrength(k.Qx, k.Qy, k.P, k.A, k.B, k.Gx, k.Gy, k.N)
	if err != nil {
		return nil, err
	}
	k.Strength = strength
	return k, nil
}
