package source

import (
	"fmt"
	"math/bits"
)

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // approximate TPACKET3_HDRLEN
	targetBlockSize  = 128 << 10
)

// ringGeometry sizes an AF_PACKET TPACKET_V3 ring for the given memory
// budget. The kernel requires frameSize to be a multiple of
// TPACKET_ALIGNMENT, blockSize to be a multiple of both the page size and
// frameSize, and pageSize to be a power of two.
func ringGeometry(bufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if bufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d MB", bufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize < tpacketAlignment || pageSize&(pageSize-1) != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a power of two >= %d, got %d", tpacketAlignment, pageSize)
	}

	raw := tpacketHdrLen + snapLen
	if raw <= pageSize {
		// Power-of-two frames tile a page exactly.
		frameSize = 1 << bits.Len(uint(raw-1))
		if frameSize < tpacketAlignment {
			frameSize = tpacketAlignment
		}
		blockSize = pageSize
		if targetBlockSize > blockSize {
			blockSize = targetBlockSize
		}
	} else {
		frameSize = alignUp(raw, pageSize)
		blockSize = frameSize * max(1, targetBlockSize/frameSize)
	}

	numBlocks = max(1, bufferSizeMB*1024*1024/blockSize)
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}
