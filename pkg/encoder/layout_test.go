package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleFrameLayout(t *testing.T) {
	meta := []byte{0xAA, 0xBB, 0xCC}
	thumb := []byte{0x11, 0x22}
	payload := make([]byte, payloadHeaderSkip+4)
	copy(payload[payloadHeaderSkip:], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	out, err := assembleFrame(meta, thumb, payload)
	require.NoError(t, err)

	// marker
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe1}, out[:4])
	// big-endian length of meta + thumb + the two length bytes
	segLen := len(meta) + len(thumb) + 2
	assert.Equal(t, byte(segLen>>8), out[4])
	assert.Equal(t, byte(segLen&0xff), out[5])
	// metadata, thumbnail, then the payload minus its skipped header
	assert.Equal(t, meta, out[6:9])
	assert.Equal(t, thumb, out[9:11])
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, out[11:])
	assert.Len(t, out, 4+2+len(meta)+len(thumb)+4)
}

func TestAssembleFrameNoThumbnail(t *testing.T) {
	meta := []byte{0x01}
	payload := make([]byte, payloadHeaderSkip+1)
	payload[payloadHeaderSkip] = 0x7F

	out, err := assembleFrame(meta, nil, payload)
	require.NoError(t, err)

	assert.Equal(t, byte(0), out[4])
	assert.Equal(t, byte(3), out[5])
	assert.Equal(t, []byte{0x01, 0x7F}, out[6:])
}

func TestAssembleFrameShortPayload(t *testing.T) {
	_, err := assembleFrame([]byte{0x01}, nil, make([]byte, payloadHeaderSkip-1))
	assert.Error(t, err)
}

func TestAssembleFrameOversizedMetadata(t *testing.T) {
	meta := make([]byte, maxSegmentLen)
	_, err := assembleFrame(meta, nil, make([]byte, payloadHeaderSkip))
	assert.Error(t, err)
}
