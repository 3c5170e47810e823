package hboot

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
)

// HeaderSize is the size of the boot header in bytes.
const HeaderSize = 64

// HeaderSignature is the 'MOOH' signature in header slot 6.
const HeaderSignature = 0x484f4f4d

// Header is the 16 word boot header.
type Header [16]uint32

// Bytes returns the little endian encoding of the header.
func (h *Header) Bytes() []byte {
	out := make([]byte, 0, HeaderSize)
	for _, w := range h {
		out = appendU32(out, w)
	}
	return out
}

// Checksum returns the value of slot 15 for slots 0 to 14.
func (h *Header) Checksum() uint32 {
	var sum uint32
	for _, w := range h[:15] {
		sum += w
	}
	return (sum - 1) ^ 0xffffffff
}

// digest hashes the chunk stream for the header. The netX56 uses SHA-224,
// all other chips SHA-384. Only the first 7 words are stored.
func (c Chip) digest(stream []byte) []byte {
	if c == NETX56 {
		sum := sha256.Sum224(stream)
		return sum[:]
	}
	sum := sha512.Sum384(stream)
	return sum[:]
}

// buildHeader fills the header for stream, which includes the end marker.
func (b *builder) buildHeader(stream []byte) error {
	img := b.img
	var h Header
	h[0] = b.Chip.cookie(img.Type)
	h[4] = uint32(len(stream) / 4)
	h[6] = HeaderSignature
	h[7] = uint32(img.HashDw - 1)
	d := b.Chip.digest(stream)
	for i := 0; i < 7; i++ {
		h[8+i] = binary.LittleEndian.Uint32(d[i*4:])
	}

	if img.SetFlasherParameters {
		info, err := b.Chip.flasherInfo(img.Device)
		if err != nil {
			return err
		}
		h[2] = img.StartOffset
		h[5] = info
	}

	for i, v := range img.Overrides[:15] {
		if v != nil {
			h[i] = *v
		}
	}
	h[15] = h.Checksum()
	if v := img.Overrides[15]; v != nil {
		h[15] = *v
	}
	img.Header = h
	return nil
}
