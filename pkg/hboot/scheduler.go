package hboot

import (
	"errors"
	"fmt"

	"k8s.io/klog/v2"
)

// MaxPasses is the number of passes over the chunk list.
const MaxPasses = 2

// schedState is handed to every chunk encoder.
type schedState struct {
	Pass int
	// Offset is the position of the current chunk in the flash.
	Offset            uint32
	MoreChunksAllowed bool
	Chunks            []*Chunk
	Index             int
}

// schedule encodes all chunks. Chunks that depend on later chunks stay
// unfinished in the first pass and are completed in the second one.
func (b *builder) schedule() error {
	img := b.img
	start := img.StartOffset
	if img.HasHeader {
		start += HeaderSize
	}

	for pass := 0; pass < MaxPasses; pass++ {
		st := &schedState{
			Pass:              pass,
			Offset:            start,
			MoreChunksAllowed: true,
			Chunks:            img.Chunks,
		}
		klog.V(1).Infof("Pass %d, start offset 0x%08x", pass, start)
		for i, c := range img.Chunks {
			if !st.MoreChunksAllowed {
				return errors.New("No more chunks allowed.")
			}
			st.Index = i
			if !c.Finished {
				klog.V(1).Infof("  %s chunk #%d at 0x%08x", c.Kind, i, st.Offset)
				if err := kinds[c.Kind].encode(b, c, st); err != nil {
					return fmt.Errorf("%s chunk #%d: %w", c.Kind, i, err)
				}
			}
			st.Offset += uint32(len(c.Data))
		}
	}

	for _, c := range img.Chunks {
		if !c.Finished {
			return errors.New("Some chunks are still not finished.")
		}
	}
	return nil
}
