package hboot

import (
	"bytes"
	"crypto/sha512"
	"fmt"
)

// Secure memory layout.
const (
	SecmemZone2Revision = 0x81
	secmemZoneSize      = 32
	secmemZone2Max      = 29
	secmemMax           = 61
)

// InfoPageWords is the size of an info page without its hash in words.
const InfoPageWords = 1012

// crc7 is the checksum of the secure memory zone 2.
func crc7(data []byte) byte {
	var crc byte
	for _, c := range data {
		for i := 0; i < 8; i++ {
			bit := (crc ^ c) & 0x80
			crc <<= 1
			c <<= 1
			if bit != 0 {
				crc ^= 0x07
			}
		}
	}
	return crc
}

func (b *builder) stream() []byte {
	var out []byte
	for _, c := range b.img.Chunks {
		out = append(out, c.Data...)
	}
	return out
}

// secureMemory splits the option bytes into zone 2 and zone 3.
func secureMemory(data []byte) ([]byte, error) {
	switch size := len(data); {
	case size <= secmemZone2Max:
		zone2 := fillup([]byte{byte(size)}, data, secmemZone2Max)
		zone2 = append(zone2, SecmemZone2Revision)
		zone2 = append(zone2, crc7(zone2))
		return append(zone2, make([]byte, secmemZoneSize)...), nil
	case size <= secmemMax:
		tmp := fillup([]byte{byte(size)}, data, secmemMax)
		tmp = append(tmp, SecmemZone2Revision)
		crc := crc7(tmp)
		out := append([]byte(nil), tmp[:30]...)
		out = append(out, SecmemZone2Revision, crc)
		return append(out, tmp[30:62]...), nil
	default:
		return nil, fmt.Errorf("The image is too big for a SECMEM. It must be %d bytes or less, but it has %d bytes.", secmemMax, size)
	}
}

// assemble writes the complete image to img.Output.
func (b *builder) assemble() error {
	img := b.img
	stream := b.stream()
	var header, end []byte

	switch {
	case img.Type == SecureMemory:
		var err error
		if stream, err = secureMemory(stream); err != nil {
			return err
		}
	case img.Type.isInfoPage():
		if len(stream) != InfoPageWords*4 {
			return fmt.Errorf("The info page data without the hash must be %d DWORDs, but it is %d bytes.", InfoPageWords, len(stream))
		}
		sum := sha512.Sum384(stream)
		stream = append(stream, sum[:]...)
	default:
		terminated := append(append([]byte(nil), stream...), 0, 0, 0, 0)
		if err := b.buildHeader(terminated); err != nil {
			return err
		}
		header = img.Header.Bytes()
		end = []byte{0, 0, 0, 0}
	}

	var out []byte
	out = append(out, bytes.Repeat([]byte{img.PaddingByte}, img.PaddingSize)...)
	if img.HasHeader {
		out = append(out, header...)
	}
	out = append(out, stream...)
	if img.HasEnd {
		out = append(out, end...)
	}
	img.Output = out
	return nil
}
