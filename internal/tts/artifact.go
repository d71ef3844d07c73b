package tts

import (
	"bytes"
	"encoding/binary"
)

const wavHeaderSize = 44

// Artifact accumulates audio segments in receipt order.
type Artifact struct {
	segments [][]byte
	size     int
}

// Append adds a segment. Empty segments are kept out of the artifact.
func (a *Artifact) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	a.segments = append(a.segments, data)
	a.size += len(data)
}

// Len reports the total payload size in bytes.
func (a *Artifact) Len() int { return a.size }

// Segments reports how many non-empty segments were appended.
func (a *Artifact) Segments() int { return len(a.segments) }

// Bytes concatenates all segments.
func (a *Artifact) Bytes() []byte {
	out := make([]byte, 0, a.size)
	for _, seg := range a.segments {
		out = append(out, seg...)
	}
	return out
}

// WAV wraps the payload in a PCM RIFF header sized for the exact payload length.
func (a *Artifact) WAV(sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + a.size)

	buf.WriteString("RIFF")
	writeU32(&buf, uint32(36+a.size))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeU32(&buf, 16)
	writeU16(&buf, 1) // PCM
	writeU16(&buf, uint16(channels))
	writeU32(&buf, uint32(sampleRate))
	writeU32(&buf, uint32(sampleRate*blockAlign))
	writeU16(&buf, uint16(blockAlign))
	writeU16(&buf, uint16(bitsPerSample))
	buf.WriteString("data")
	writeU32(&buf, uint32(a.size))
	for _, seg := range a.segments {
		buf.Write(seg)
	}
	return buf.Bytes()
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
