// Package exif builds the embedded-metadata blob that the encoder prepends
// to every compressed frame. The blob is a standard APP1 EXIF payload:
// the "Exif\0\0" identifier followed by a little-endian TIFF structure with
// an IFD0 carrying camera identity tags and an EXIF sub-IFD carrying the
// per-frame exposure values. Readers that understand JPEG/EXIF can consume
// the assembled frames directly.
package exif

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/jzx17/framepipe/pkg/frameinfo"
)

var le = binary.LittleEndian

// exifIdent prefixes the TIFF structure inside an APP1 segment.
var exifIdent = []byte{'E', 'x', 'i', 'f', 0, 0}

// TIFF field types
const (
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
)

// Tags used by the builder
const (
	tagMake            = 0x010F
	tagModel           = 0x0110
	tagSoftware        = 0x0131
	tagDateTime        = 0x0132
	tagExifIFDPointer  = 0x8769
	tagExposureTime    = 0x829A
	tagISOSpeedRatings = 0x8827
)

const (
	tiffHeaderSize = 8
	entrySize      = 12
)

// Builder constructs EXIF metadata blobs. The camera identity strings are
// fixed at construction; the per-frame values come from the FrameInfo passed
// to Build.
type Builder struct {
	// Make is the camera manufacturer string
	Make string

	// Model is the camera model string
	Model string

	// Software is the producing-software string
	Software string

	// Now supplies the DateTime tag value, defaults to time.Now
	Now func() time.Time
}

// NewBuilder creates a Builder with default identity strings.
func NewBuilder() *Builder {
	return &Builder{
		Make:     "framepipe",
		Model:    "synthetic camera",
		Software: "framepipe",
	}
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

func asciiEntry(tag uint16, s string) entry {
	v := append([]byte(s), 0)
	return entry{tag: tag, typ: typeASCII, count: uint32(len(v)), value: v}
}

func shortEntry(tag uint16, v uint16) entry {
	var b [2]byte
	le.PutUint16(b[:], v)
	return entry{tag: tag, typ: typeShort, count: 1, value: b[:]}
}

func longEntry(tag uint16, v uint32) entry {
	var b [4]byte
	le.PutUint32(b[:], v)
	return entry{tag: tag, typ: typeLong, count: 1, value: b[:]}
}

func rationalEntry(tag uint16, num, den uint32) entry {
	var b [8]byte
	le.PutUint32(b[:4], num)
	le.PutUint32(b[4:], den)
	return entry{tag: tag, typ: typeRational, count: 1, value: b[:]}
}

func ifdSize(n int) int {
	return 2 + n*entrySize + 4
}

// Build serializes the metadata blob for one frame.
func (b *Builder) Build(info frameinfo.FrameInfo) ([]byte, error) {
	now := b.Now
	if now == nil {
		now = time.Now
	}

	ifd0 := []entry{
		asciiEntry(tagMake, b.Make),
		asciiEntry(tagModel, b.Model),
		asciiEntry(tagSoftware, b.Software),
		asciiEntry(tagDateTime, now().Format("2006:01:02 15:04:05")),
	}

	var sub []entry
	if info.ExposureTime > 0 {
		sub = append(sub, rationalEntry(tagExposureTime, uint32(info.ExposureTime), 1000000))
	}
	if info.AnalogueGain > 0 {
		iso := math.Round(float64(100 * info.TotalGain()))
		if iso > math.MaxUint16 {
			iso = math.MaxUint16
		}
		sub = append(sub, shortEntry(tagISOSpeedRatings, uint16(iso)))
	}

	// Offsets inside the TIFF structure. The external-value data area sits
	// after the last IFD; tag order within each IFD must stay ascending.
	dataOff := tiffHeaderSize + ifdSize(len(ifd0))
	if len(sub) > 0 {
		dataOff = tiffHeaderSize + ifdSize(len(ifd0)+1)
		ifd0 = append(ifd0, longEntry(tagExifIFDPointer, uint32(dataOff)))
		dataOff += ifdSize(len(sub))
	}

	var tiff, data bytes.Buffer
	tiff.WriteString("II")
	binaryWrite(&tiff, uint16(42))
	binaryWrite(&tiff, uint32(tiffHeaderSize))

	writeIFD := func(entries []entry) {
		binaryWrite(&tiff, uint16(len(entries)))
		for _, e := range entries {
			binaryWrite(&tiff, e.tag)
			binaryWrite(&tiff, e.typ)
			binaryWrite(&tiff, e.count)
			if len(e.value) <= 4 {
				var v [4]byte
				copy(v[:], e.value)
				tiff.Write(v[:])
			} else {
				binaryWrite(&tiff, uint32(dataOff+data.Len()))
				data.Write(e.value)
				if len(e.value)%2 == 1 {
					data.WriteByte(0)
				}
			}
		}
		binaryWrite(&tiff, uint32(0)) // no next IFD
	}

	writeIFD(ifd0)
	if len(sub) > 0 {
		writeIFD(sub)
	}

	blob := make([]byte, 0, len(exifIdent)+tiff.Len()+data.Len())
	blob = append(blob, exifIdent...)
	blob = append(blob, tiff.Bytes()...)
	blob = append(blob, data.Bytes()...)
	return blob, nil
}

func binaryWrite(w *bytes.Buffer, v interface{}) {
	// bytes.Buffer writes cannot fail
	_ = binary.Write(w, le, v)
}
