// Package frameinfo carries per-frame capture metadata through the encode
// pipeline. The record is opaque to the pipeline itself: it is captured by
// the frame source and only interpreted by the metadata-blob builder and by
// diagnostic output.
package frameinfo

import (
	"fmt"
	"strings"
)

// FrameInfo describes the capture state of a single raw frame.
type FrameInfo struct {
	// Sequence is the capture-source frame counter, which is not the same
	// as the encoder's sequence index.
	Sequence uint64

	// ColourTemperature in Kelvin, 0 if unknown
	ColourTemperature int32

	// FrameDuration in microseconds
	FrameDuration int64

	// ExposureTime in microseconds
	ExposureTime float32

	// AnalogueGain applied by the sensor
	AnalogueGain float32

	// DigitalGain applied by the ISP
	DigitalGain float32

	// ColourGains holds the red and blue white-balance gains
	ColourGains [2]float32

	// Focus is the focus figure of merit
	Focus float32

	// FPS is the measured frame rate
	FPS float32

	// Lux is the estimated scene brightness
	Lux float32

	// AELock reports whether auto-exposure is locked
	AELock bool
}

// Info text tokens.
var tokens = []string{
	"%frame", "%fps", "%exp", "%ag", "%dg",
	"%rg", "%bg", "%focus", "%aelock", "%temp",
	"%fd", "%lux",
}

// Expand substitutes the first occurrence of each %token in format with the
// corresponding field value. Floats are printed with two decimal places,
// integers unpadded, and %aelock as 1 or 0.
func (fi FrameInfo) Expand(format string) string {
	parsed := format

	for _, t := range tokens {
		if !strings.Contains(parsed, t) {
			continue
		}

		var value string
		switch t {
		case "%frame":
			value = fmt.Sprintf("%d", fi.Sequence)
		case "%fps":
			value = fmt.Sprintf("%.2f", fi.FPS)
		case "%exp":
			value = fmt.Sprintf("%.2f", fi.ExposureTime)
		case "%temp":
			value = fmt.Sprintf("%d", fi.ColourTemperature)
		case "%fd":
			value = fmt.Sprintf("%d", fi.FrameDuration)
		case "%lux":
			value = fmt.Sprintf("%.2f", fi.Lux)
		case "%ag":
			value = fmt.Sprintf("%.2f", fi.AnalogueGain)
		case "%dg":
			value = fmt.Sprintf("%.2f", fi.DigitalGain)
		case "%rg":
			value = fmt.Sprintf("%.2f", fi.ColourGains[0])
		case "%bg":
			value = fmt.Sprintf("%.2f", fi.ColourGains[1])
		case "%focus":
			value = fmt.Sprintf("%.2f", fi.Focus)
		case "%aelock":
			if fi.AELock {
				value = "1"
			} else {
				value = "0"
			}
		}

		parsed = strings.Replace(parsed, t, value, 1)
	}

	return parsed
}

// TotalGain returns the combined analogue and digital gain. A zero digital
// gain is treated as unity, matching sensors that do not report it.
func (fi FrameInfo) TotalGain() float32 {
	dg := fi.DigitalGain
	if dg == 0 {
		dg = 1.0
	}
	return fi.AnalogueGain * dg
}
