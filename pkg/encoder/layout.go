package encoder

import (
	"fmt"
)

// Output frame layout. Each delivered buffer is
//
//	[4-byte marker][2-byte big-endian segment length][metadata blob]
//	[optional thumbnail blob][payload bytes after the skipped header]
//
// where the segment length counts the metadata blob, the thumbnail blob and
// the two length bytes themselves. The first payloadHeaderSkip bytes of the
// compressed payload duplicate information already present in the metadata
// segment and are dropped. The layout must stay bit-exact for existing
// readers.
var frameMarker = []byte{0xff, 0xd8, 0xff, 0xe1}

const payloadHeaderSkip = 20

// maxSegmentLen bounds the metadata segment: the length field is 16 bits.
const maxSegmentLen = 0xffff

// assembleFrame concatenates the metadata segment and the compressed payload
// into one contiguous output buffer.
func assembleFrame(meta, thumb, payload []byte) ([]byte, error) {
	segLen := len(meta) + len(thumb) + 2
	if segLen > maxSegmentLen {
		return nil, fmt.Errorf("metadata segment too large: %d bytes", segLen)
	}
	if len(payload) < payloadHeaderSkip {
		return nil, fmt.Errorf("compressed payload too short: %d bytes", len(payload))
	}

	body := payload[payloadHeaderSkip:]
	out := make([]byte, 0, len(frameMarker)+2+len(meta)+len(thumb)+len(body))
	out = append(out, frameMarker...)
	out = append(out, byte(segLen>>8), byte(segLen&0xff))
	out = append(out, meta...)
	out = append(out, thumb...)
	out = append(out, body...)
	return out, nil
}
