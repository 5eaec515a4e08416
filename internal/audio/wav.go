package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// WAVHeaderSize is the size of a canonical PCM RIFF/WAVE header.
const WAVHeaderSize = 44

// Format describes raw PCM samples. Recordings are signed 16-bit little endian.
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// MonoPCM16 is the recorder's native format at the given rate.
func MonoPCM16(sampleRate int) Format {
	return Format{SampleRate: sampleRate, BitsPerSample: 16, Channels: 1}
}

func (f Format) BlockAlign() int { return f.Channels * f.BitsPerSample / 8 }

func (f Format) BytesPerSecond() int { return f.SampleRate * f.BlockAlign() }

// Duration is the playback time of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// FrameWAV prefixes pcm with a standalone WAV header so each chunk decodes on its own.
// No state is carried between chunks.
func FrameWAV(f Format, pcm []byte) []byte {
	out := make([]byte, WAVHeaderSize+len(pcm))
	putHeader(out[:WAVHeaderSize], f, uint32(len(pcm)))
	copy(out[WAVHeaderSize:], pcm)
	return out
}

func putHeader(b []byte, f Format, dataLen uint32) {
	le := binary.LittleEndian
	copy(b[0:4], "RIFF")
	le.PutUint32(b[4:8], 36+dataLen)
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	le.PutUint32(b[16:20], 16)
	le.PutUint16(b[20:22], 1) // PCM
	le.PutUint16(b[22:24], uint16(f.Channels))
	le.PutUint32(b[24:28], uint32(f.SampleRate))
	le.PutUint32(b[28:32], uint32(f.BytesPerSecond()))
	le.PutUint16(b[32:34], uint16(f.BlockAlign()))
	le.PutUint16(b[34:36], uint16(f.BitsPerSample))
	copy(b[36:40], "data")
	le.PutUint32(b[40:44], dataLen)
}

var errNoDataChunk = errors.New("audio: wav data chunk not found")

// wavDataOffset walks the RIFF chunks of a WAV source file and returns where
// sample data begins. Recorders still writing may not have flushed the header yet.
func wavDataOffset(r io.ReaderAt) (int64, error) {
	head := make([]byte, 12)
	if _, err := r.ReadAt(head, 0); err != nil {
		return 0, err
	}
	if !bytes.Equal(head[0:4], []byte("RIFF")) || !bytes.Equal(head[8:12], []byte("WAVE")) {
		return 0, errNoDataChunk
	}

	pos := int64(12)
	hdr := make([]byte, 8)
	// Bounded walk: real headers are a handful of chunks.
	for i := 0; i < 16; i++ {
		if _, err := r.ReadAt(hdr, pos); err != nil {
			return 0, err
		}
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		if bytes.Equal(hdr[0:4], []byte("data")) {
			return pos + 8, nil
		}
		pos += 8 + size + size%2
	}
	return 0, errNoDataChunk
}
