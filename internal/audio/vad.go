package audio

import (
	"math"
)

// DefaultSilenceRMS is the energy below which a chunk counts as silence.
const DefaultSilenceRMS = 0.01

// RMS computes the root mean square energy of PCM data, normalized to 0..1.
// bitDepth 16 is signed PCM, 32 is float PCM, anything else unsigned 8-bit.
func RMS(data []byte, bitDepth int) float64 {
	if len(data) == 0 {
		return 0
	}

	var sum float64
	var count int

	switch bitDepth {
	case 16:
		for i := 0; i+1 < len(data); i += 2 {
			sample := int16(data[i]) | int16(data[i+1])<<8
			normalized := float64(sample) / 32768.0
			sum += normalized * normalized
			count++
		}
	case 32:
		for i := 0; i+3 < len(data); i += 4 {
			bits := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
			sample := math.Float32frombits(bits)
			sum += float64(sample * sample)
			count++
		}
	default:
		for _, b := range data {
			normalized := (float64(b) - 128.0) / 128.0
			sum += normalized * normalized
			count++
		}
	}

	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}

// VAD is an energy detector smoothed over the last few chunks.
// It is not safe for concurrent use.
type VAD struct {
	threshold float64
	history   []float64
	index     int
	speech    bool
}

// NewVAD creates a detector. Non-positive arguments select defaults.
func NewVAD(threshold float64, smoothingFrames int) *VAD {
	if threshold <= 0 {
		threshold = DefaultSilenceRMS
	}
	if smoothingFrames <= 0 {
		smoothingFrames = 3
	}
	return &VAD{threshold: threshold, history: make([]float64, smoothingFrames)}
}

// Process feeds the RMS of one chunk and reports whether the smoothed energy
// is above the threshold.
func (v *VAD) Process(rms float64) bool {
	v.history[v.index] = rms
	v.index = (v.index + 1) % len(v.history)

	var sum float64
	for _, e := range v.history {
		sum += e
	}
	active := sum/float64(len(v.history)) >= v.threshold
	if active {
		v.speech = true
	}
	return active
}

// HeardSpeech reports whether any processed chunk crossed the threshold.
func (v *VAD) HeardSpeech() bool { return v.speech }
