package signing

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

const (
	// OpenSSLBinary is the default OpenSSL command
	OpenSSLBinary = "openssl"
	// TempFilePrefix is the prefix of key and data files handed to OpenSSL
	TempFilePrefix = "tmp_hboot_image"
)

// OpenSSL runs the openssl command line tool.
type OpenSSL struct {
	Binary string
	// Options are appended to every "openssl dgst" call.
	Options []string
}

// NewOpenSSL returns an OpenSSL signer. An empty binary selects OpenSSLBinary.
func NewOpenSSL(binary string, options []string) *OpenSSL {
	if binary == "" {
		binary = OpenSSLBinary
	}
	return &OpenSSL{Binary: binary, Options: options}
}

func (o *OpenSSL) run(stdin []byte, args ...string) ([]byte, error) {
	openssl, err := exec.LookPath(o.Binary)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(openssl, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s failed: %v: %s", o.Binary, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// KeyInfo implements Signer with "openssl pkey -text".
func (o *OpenSSL) KeyInfo(der []byte, public bool) (*KeyMaterial, error) {
	args := []string{"pkey", "-inform", "DER", "-text", "-noout"}
	if public {
		args = append(args, "-pubin")
	}
	out, err := o.run(der, args...)
	if err != nil {
		return nil, err
	}
	return ParseKeyText(string(out), public)
}

func writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Sign implements Signer with "openssl dgst -sign".
func (o *OpenSSL) Sign(der []byte, alg Algorithm, msg []byte) ([]byte, error) {
	keyPath, err := writeTemp(TempFilePrefix+"*.der", der)
	if err != nil {
		return nil, err
	}
	defer os.Remove(keyPath)

	dataPath, err := writeTemp(TempFilePrefix+"*.bin", msg)
	if err != nil {
		return nil, err
	}
	defer os.Remove(dataPath)

	args := []string{"dgst", "-sign", keyPath, "-keyform", "DER"}
	if alg == RSA {
		args = append(args, "-sigopt", "rsa_padding_mode:pss", "-sigopt", "rsa_pss_saltlen:-1")
	}
	args = append(args, "-sha384")
	args = append(args, o.Options...)
	args = append(args, dataPath)
	return o.run(nil, args...)
}

var hexLine = regexp.MustCompile(`^[0-9a-fA-F]{2}(:[0-9a-fA-F]{2})*:?$`)

// dataBlock collects the colon separated hex lines following the line id.
func dataBlock(text, id string) []byte {
	var out []byte
	found := false
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !found {
			found = line == id
			continue
		}
		if !hexLine.MatchString(line) {
			break
		}
		for _, h := range strings.Split(line, ":") {
			if h == "" {
				continue
			}
			b, _ := hex.DecodeString(h)
			out = append(out, b...)
		}
	}
	return out
}

// cutLeadingZero removes the sign byte OpenSSL prints for values with the
// top bit set.
func cutLeadingZero(b []byte) []byte {
	if len(b) > 1 && b[0] == 0 && b[1] >= 0x80 {
		return b[1:]
	}
	return b
}

// uncompressedPoint splits a 04||X||Y point into its coordinates.
func uncompressedPoint(b []byte) ([]byte, []byte, error) {
	if len(b) == 0 || b[0] != 0x04 {
		return nil, nil, errors.New("The data is compressed. This is not supported yet.")
	}
	b = b[1:]
	half := len(b) / 2
	return b[:half], b[half:], nil
}

func numberLine(text, label string) (int64, error) {
	re := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(label) + `\s+(\d+)\s+\(0x([0-9a-fA-F]+)\)\s*$`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("Can not find %s", strings.TrimSuffix(label, ":"))
	}
	dec, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, err
	}
	hx, err := strconv.ParseInt(m[2], 16, 64)
	if err != nil {
		return 0, err
	}
	if dec != hx {
		return 0, errors.New("Decimal version differs from hex version!")
	}
	return dec, nil
}

// ParseKeyText parses the output of "openssl pkey -text -noout".
func ParseKeyText(text string, public bool) (*KeyMaterial, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "modulus:"):
		modLabel, expLabel := "modulus:", "publicExponent:"
		if public {
			modLabel, expLabel = "Modulus:", "Exponent:"
		}
		exp, err := numberLine(text, expLabel)
		if err != nil {
			return nil, err
		}
		mod := cutLeadingZero(dataBlock(text, modLabel))
		if len(mod) == 0 {
			return nil, errors.New("Can not find the modulus")
		}
		return rsaMaterial(new(big.Int).SetBytes(mod), int(exp))

	case strings.Contains(text, "priv:"):
		d := cutLeadingZero(dataBlock(text, "priv:"))
		qx, qy, err := uncompressedPoint(dataBlock(text, "pub:"))
		if err != nil {
			return nil, err
		}
		gx, gy, err := uncompressedPoint(dataBlock(text, "Generator (uncompressed):"))
		if err != nil {
			return nil, err
		}
		cof, err := numberLine(text, "Cofactor:")
		if err != nil {
			return nil, err
		}
		k := &KeyMaterial{
			Algorithm: ECC,
			D:         reversed(d),
			Qx:        reversed(qx),
			Qy:        reversed(qy),
			P:         reversed(cutLeadingZero(dataBlock(text, "Prime:"))),
			A:         reversed(cutLeadingZero(dataBlock(text, "A:"))),
			B:         reversed(cutLeadingZero(dataBlock(text, "B:"))),
			Gx:        reversed(gx),
			Gy:        reversed(gy),
			N:         reversed(cutLeadingZero(dataBlock(text, "Order:"))),
			Cofactor:  cof,
		}
		if k.Strength, err = eccStrength(k.D, k.Qx, k.Qy, k.P, k.A, k.B, k.Gx, k.Gy, k.N); err != nil {
			return nil, err
		}
		return k, nil
	}
	return nil, errors.New("Unknown key format.")
}
