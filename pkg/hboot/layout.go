package hboot

import (
	"encoding/hex"
)

// ChunkInfo describes the position of a chunk in the image.
type ChunkInfo struct {
	Index  int    `yaml:"index"`
	Kind   string `yaml:"kind"`
	Offset uint32 `yaml:"offset"`
	Size   int    `yaml:"size"`
	Hash   string `yaml:"hash,omitempty"`
}

// Layout returns the chunk positions relative to the flash start.
func (img *Image) Layout() []ChunkInfo {
	offset := img.StartOffset
	if img.HasHeader {
		offset += HeaderSize
	}
	infos := make([]ChunkInfo, 0, len(img.Chunks))
	for i, c := range img.Chunks {
		ci := ChunkInfo{
			Index:  i,
			Kind:   c.Kind.String(),
			Offset: offset,
			Size:   len(c.Data),
		}
		if c.Hash != nil {
			ci.Hash = hex.EncodeToString(c.Hash)
		}
		infos = append(infos, ci)
		offset += uint32(len(c.Data))
	}
	return infos
}
