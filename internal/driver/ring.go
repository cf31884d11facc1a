package driver

import (
	"fmt"
)

// ringSize computes the TPACKET_V3 frame size, block size and block count for
// a ring of roughly bufferMB megabytes holding frames of up to snapLen bytes.
//
// The kernel requires frameSize to be a multiple of TPACKET_ALIGNMENT,
// blockSize to be a multiple of the page size, and blockSize to be a
// multiple of frameSize.
func ringSize(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52
	const maxBlockSize = 4 << 20

	if bufferMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = (tpacketHdrLen + snapLen + tpacketAlignment - 1) / tpacketAlignment * tpacketAlignment

	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// fall back to the largest page-aligned block holding whole frames
		blockSize = maxBlockSize / frameSize * frameSize
		blockSize = blockSize / pageSize * pageSize
		if blockSize == 0 || blockSize%frameSize != 0 {
			return 0, 0, 0, fmt.Errorf("no block size fits frame size %d and page size %d", frameSize, pageSize)
		}
	}

	numBlocks = bufferMB << 20 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
