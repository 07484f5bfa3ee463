package audio

import (
	"encoding/binary"
	"sync"
)

// Buffer accumulates captured PCM and tracks its loudest chunk.
type Buffer struct {
	mu      sync.Mutex
	spec    Spec
	data    []byte
	peakRMS float64
	limit   int
}

// NewBuffer creates a buffer for audio in layout spec holding at most limit
// bytes. A limit of zero means unbounded.
func NewBuffer(spec Spec, limit int) *Buffer {
	if spec.SampleRate == 0 {
		spec = DefaultSpec()
	}
	return &Buffer{spec: spec, limit: limit}
}

// Write appends a chunk. It returns ErrBufferFull once the limit is reached;
// the part that fits is kept.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	full := false
	if b.limit > 0 && len(b.data)+n > b.limit {
		n = b.limit - len(b.data)
		full = true
	}
	if n > 0 {
		chunk := p[:n]
		b.data = append(b.data, chunk...)
		if rms := RMS(chunk, b.spec.BitDepth); rms > b.peakRMS {
			b.peakRMS = rms
		}
	}
	if full {
		return n, ErrBufferFull
	}
	return n, nil
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// PeakRMS returns the energy of the loudest chunk written so far.
func (b *Buffer) PeakRMS() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peakRMS
}

// Spec returns the sample layout of the buffer.
func (b *Buffer) Spec() Spec { return b.spec }

// PCM returns a copy of the raw samples.
func (b *Buffer) PCM() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// WAV returns the buffered samples wrapped in a RIFF/WAVE container.
func (b *Buffer) WAV() []byte {
	return EncodeWAV(b.PCM(), b.spec)
}

// EncodeWAV prefixes little-endian PCM data with a 44-byte WAV header.
func EncodeWAV(pcm []byte, spec Spec) []byte {
	if spec.SampleRate == 0 {
		spec.SampleRate = 16000
	}
	if spec.Channels == 0 {
		spec.Channels = 1
	}
	if spec.BitDepth == 0 {
		spec.BitDepth = 16
	}

	byteRate := spec.SampleRate * spec.Channels * spec.BitDepth / 8
	blockAlign := spec.Channels * spec.BitDepth / 8
	dataSize := len(pcm)

	out := make([]byte, 44, 44+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // Subchunk1Size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // AudioFormat (PCM)
	binary.LittleEndian.PutUint16(out[22:24], uint16(spec.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(spec.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(spec.BitDepth))

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	return append(out, pcm...)
}
