package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingGeometry(t *testing.T) {
	tests := []struct {
		name     string
		bufferMB int
		snapLen  int
		pageSize int
	}{
		{"full snap", 8, 65535, 4096},
		{"small snap", 8, 96, 4096},
		{"mtu snap", 16, 1514, 4096},
		{"just over a page", 4, 4096, 4096},
		{"large pages", 64, 9000, 65536},
		{"tiny buffer", 1, 65535, 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, block, n, err := ringGeometry(tt.bufferMB, tt.snapLen, tt.pageSize)
			require.NoError(t, err)

			assert.GreaterOrEqual(t, frame, tt.snapLen+tpacketHdrLen)
			assert.Zero(t, frame%tpacketAlignment, "frame alignment")
			assert.Zero(t, block%tt.pageSize, "block is page aligned")
			assert.Zero(t, block%frame, "block holds whole frames")
			assert.GreaterOrEqual(t, n, 1)
			if block <= tt.bufferMB<<20 {
				assert.LessOrEqual(t, block*n, tt.bufferMB<<20)
			}
		})
	}
}

func TestRingGeometrySmallFrame(t *testing.T) {
	frame, block, n, err := ringGeometry(8, 96, 4096)
	require.NoError(t, err)
	assert.Equal(t, 256, frame)
	assert.Equal(t, targetBlockSize, block)
	assert.Equal(t, 64, n)
}

func TestRingGeometryInvalid(t *testing.T) {
	_, _, _, err := ringGeometry(0, 65535, 4096)
	assert.Error(t, err)
	_, _, _, err = ringGeometry(8, 0, 4096)
	assert.Error(t, err)
	_, _, _, err = ringGeometry(8, 65535, 3000)
	assert.Error(t, err)
}
