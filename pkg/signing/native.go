package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Native signs with the Go crypto packages. Besides the usual PKCS#1,
// PKCS#8, SEC1 and PKIX encodings it accepts EC keys with explicit domain
// parameters as written by "openssl ... -param_enc explicit".
type Native struct{}

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidPrimeField     = asn1.ObjectIdentifier{1, 2, 840, 10045, 1, 1}
	oidNamedCurveP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	oidNamedCurveP384 = asn1.ObjectIdentifier{1, 3, 132, 0, 34}
	oidNamedCurveP521 = asn1.ObjectIdentifier{1, 3, 132, 0, 35}
)

func namedCurve(oid asn1.ObjectIdentifier) elliptic.Curve {
	switch {
	case oid.Equal(oidNamedCurveP256):
		return elliptic.P256()
	case oid.Equal(oidNamedCurveP384):
		return elliptic.P384()
	case oid.Equal(oidNamedCurveP521):
		return elliptic.P521()
	}
	return nil
}

func curveFromElliptic(c elliptic.Curve) *curve {
	p := c.Params()
	return &curve{
		P:        p.P,
		A:        new(big.Int).Sub(p.P, big.NewInt(3)),
		B:        p.B,
		Gx:       p.Gx,
		Gy:       p.Gy,
		N:        p.N,
		Cofactor: 1,
	}
}

// ellipticFor returns the standard curve with the same parameters as c.
func ellipticFor(c *curve) elliptic.Curve {
	for _, e := range []elliptic.Curve{elliptic.P256(), elliptic.P384(), elliptic.P521()} {
		s := curveFromElliptic(e)
		if s.P.Cmp(c.P) == 0 && s.A.Cmp(c.A) == 0 && s.B.Cmp(c.B) == 0 &&
			s.Gx.Cmp(c.Gx) == 0 && s.Gy.Cmp(c.Gy) == 0 && s.N.Cmp(c.N) == 0 {
			return e
		}
	}
	return nil
}

func readPoint(s *cryptobyte.String) (*big.Int, *big.Int, error) {
	var pt []byte
	if !s.ReadASN1Bytes(&pt, cryptobyte_asn1.OCTET_STRING) {
		return nil, nil, errors.New("Invalid EC point")
	}
	x, y, err := uncompressedPoint(pt)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).SetBytes(x), new(big.Int).SetBytes(y), nil
}

// parseECParameters reads ECParameters: either a named curve OID or a
// SpecifiedECDomain sequence.
func parseECParameters(params cryptobyte.String) (*curve, error) {
	if params.PeekASN1Tag(cryptobyte_asn1.OBJECT_IDENTIFIER) {
		var oid asn1.ObjectIdentifier
		if !params.ReadASN1ObjectIdentifier(&oid) {
			return nil, errors.New("Invalid curve OID")
		}
		c := namedCurve(oid)
		if c == nil {
			return nil, fmt.Errorf("Unsupported named curve %v", oid)
		}
		return curveFromElliptic(c), nil
	}

	var (
		domain, fieldID, curveSeq cryptobyte.String
		version                   int64
		fieldType                 asn1.ObjectIdentifier
		a, b                      []byte
		c                         = &curve{P: new(big.Int), N: new(big.Int)}
	)
	if !params.ReadASN1(&domain, cryptobyte_asn1.SEQUENCE) ||
		!domain.ReadASN1Integer(&version) ||
		!domain.ReadASN1(&fieldID, cryptobyte_asn1.SEQUENCE) ||
		!fieldID.ReadASN1ObjectIdentifier(&fieldType) {
		return nil, errors.New("Invalid EC domain parameters")
	}
	if !fieldType.Equal(oidPrimeField) {
		return nil, errors.New("Only prime field curves are supported")
	}
	if !fieldID.ReadASN1Integer(c.P) ||
		!domain.ReadASN1(&curveSeq, cryptobyte_asn1.SEQUENCE) ||
		!curveSeq.ReadASN1Bytes(&a, cryptobyte_asn1.OCTET_STRING) ||
		!curveSeq.ReadASN1Bytes(&b, cryptobyte_asn1.OCTET_STRING) {
		return nil, errors.New("Invalid EC curve parameters")
	}
	c.A = new(big.Int).SetBytes(a)
	c.B = new(big.Int).SetBytes(b)
	gx, gy, err := readPoint(&domain)
	if err != nil {
		return nil, err
	}
	c.Gx, c.Gy = gx, gy
	if !domain.ReadASN1Integer(c.N) {
		return nil, errors.New("Invalid EC order")
	}
	c.Cofactor = 1
	if !domain.Empty() && !domain.ReadASN1Integer(&c.Cofactor) {
		return nil, errors.New("Invalid EC cofactor")
	}
	return c, nil
}

type ecKey struct {
	curve *curve
	d     *big.Int
	x, y  *big.Int
}

// parseSEC1 reads an ECPrivateKey. outer holds the parameters of an
// enclosing PKCS#8 structure, if any.
func parseSEC1(der []byte, outer *curve) (*ecKey, error) {
	var (
		seq     cryptobyte.String
		version int64
		priv    []byte
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) ||
		!seq.ReadASN1Integer(&version) ||
		version != 1 ||
		!seq.ReadASN1Bytes(&priv, cryptobyte_asn1.OCTET_STRING) {
		return nil, errors.New("Invalid EC private key")
	}
	k := &ecKey{curve: outer, d: new(big.Int).SetBytes(priv)}

	var params, pub cryptobyte.String
	var hasParams, hasPub bool
	tag0 := cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()
	tag1 := cryptobyte_asn1.Tag(1).Constructed().ContextSpecific()
	if !seq.ReadOptionalASN1(&params, &hasParams, tag0) ||
		!seq.ReadOptionalASN1(&pub, &hasPub, tag1) {
		return nil, errors.New("Invalid EC private key")
	}
	if hasParams {
		c, err := parseECParameters(params)
		if err != nil {
			return nil, err
		}
		k.curve = c
	}
	if k.curve == nil {
		return nil, errors.New("The EC key has no curve parameters")
	}
	if hasPub {
		var bits asn1.BitString
		if !pub.ReadASN1BitString(&bits) {
			return nil, errors.New("Invalid EC public key")
		}
		x, y, err := uncompressedPoint(bits.RightAlign())
		if err != nil {
			return nil, err
		}
		k.x, k.y = new(big.Int).SetBytes(x), new(big.Int).SetBytes(y)
	} else if e := ellipticFor(k.curve); e != nil {
		k.x, k.y = e.ScalarBaseMult(k.d.FillBytes(make([]byte, k.curve.size())))
	} else {
		return nil, errors.New("The EC key has no public point")
	}
	return k, nil
}

// parseECPrivate accepts SEC1 and PKCS#8 EC keys with any parameter encoding.
func parseECPrivate(der []byte) (*ecKey, error) {
	if k, err := parseSEC1(der, nil); err == nil {
		return k, nil
	}
	var (
		seq, algo, params cryptobyte.String
		version           int64
		oid               asn1.ObjectIdentifier
		inner             []byte
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) ||
		!seq.ReadASN1Integer(&version) ||
		!seq.ReadASN1(&algo, cryptobyte_asn1.SEQUENCE) ||
		!algo.ReadASN1ObjectIdentifier(&oid) ||
		!oid.Equal(oidPublicKeyECDSA) {
		return nil, errors.New("Unknown key format.")
	}
	params = algo
	c, err := parseECParameters(params)
	if err != nil {
		return nil, err
	}
	if !seq.ReadASN1Bytes(&inner, cryptobyte_asn1.OCTET_STRING) {
		return nil, errors.New("Invalid PKCS#8 EC key")
	}
	return parseSEC1(inner, c)
}

// parseECPublic reads a SubjectPublicKeyInfo holding an EC key.
func parseECPublic(der []byte) (*ecKey, error) {
	var (
		seq, algo cryptobyte.String
		oid       asn1.ObjectIdentifier
		bits      asn1.BitString
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) ||
		!seq.ReadASN1(&algo, cryptobyte_asn1.SEQUENCE) ||
		!algo.ReadASN1ObjectIdentifier(&oid) ||
		!oid.Equal(oidPublicKeyECDSA) {
		return nil, errors.New("Unknown key format.")
	}
	c, err := parseECParameters(algo)
	if err != nil {
		return nil, err
	}
	if !seq.ReadASN1BitString(&bits) {
		return nil, errors.New("Invalid EC public key")
	}
	x, y, err := uncompressedPoint(bits.RightAlign())
	if err != nil {
		return nil, err
	}
	return &ecKey{curve: c, x: new(big.Int).SetBytes(x), y: new(big.Int).SetBytes(y)}, nil
}

func parseRSAPrivate(der []byte) (*rsa.PrivateKey, bool) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, true
	}
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if rk, ok := k.(*rsa.PrivateKey); ok {
			return rk, true
		}
	}
	return nil, false
}

// KeyInfo implements Signer.
func (Native) KeyInfo(der []byte, public bool) (*KeyMaterial, error) {
	if public {
		if pk, err := x509.ParsePKIXPublicKey(der); err == nil {
			if rk, ok := pk.(*rsa.PublicKey); ok {
				return rsaMaterial(rk.N, rk.E)
			}
		}
		if rk, err := x509.ParsePKCS1PublicKey(der); err == nil {
			return rsaMaterial(rk.N, rk.E)
		}
		k, err := parseECPublic(der)
		if err != nil {
			return nil, err
		}
		return eccMaterial(k.curve, nil, k.x, k.y)
	}

	if rk, ok := parseRSAPrivate(der); ok {
		return rsaMaterial(rk.N, rk.E)
	}
	k, err := parseECPrivate(der)
	if err != nil {
		return nil, err
	}
	return eccMaterial(k.curve, k.d, k.x, k.y)
}

// Sign implements Signer.
func (Native) Sign(der []byte, alg Algorithm, msg []byte) ([]byte, error) {
	digest := sha512.Sum384(msg)
	switch alg {
	case RSA:
		rk, ok := parseRSAPrivate(der)
		if !ok {
			return nil, errors.New("The key is no RSA private key")
		}
		return rsa.SignPSS(rand.Reader, rk, crypto.SHA384, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	case ECC:
		k, err := parseECPrivate(der)
		if err != nil {
			return nil, err
		}
		c := ellipticFor(k.curve)
		if c == nil {
			return nil, errors.New("Signing is only supported on the NIST P-256, P-384 and P-521 curves")
		}
		priv := &ecdsa.PrivateKey{
			PublicKey: ecdsa.PublicKey{Curve: c, X: k.x, Y: k.y},
			D:         k.d,
		}
		return ecdsa.SignASN1(rand.Reader, priv, digest[:])
	}
	return nil, fmt.Errorf("Unknown key algorithm %d", alg)
}
