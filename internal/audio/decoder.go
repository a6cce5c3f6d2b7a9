package audio

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/faiface/beep/mp3"
	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatFloat = 3 // WAVE_FORMAT_IEEE_FLOAT

// Decode sniffs the container and decodes raw file bytes into per-channel samples.
func Decode(data []byte) (Decoded, error) {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return decodeWAV(data)
	case bytes.HasPrefix(data, []byte("FORM")):
		return decodeAIFF(data)
	case isMP3(data):
		return decodeMP3(data)
	default:
		return Decoded{}, ErrUnsupportedFormat
	}
}

func isMP3(data []byte) bool {
	if bytes.HasPrefix(data, []byte("ID3")) {
		return true
	}
	// Bare MPEG frame sync
	return len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

func decodeWAV(data []byte) (Decoded, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Decoded{}, fmt.Errorf("invalid wav file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Decoded{}, fmt.Errorf("wav pcm: %w", err)
	}
	return deinterleave(buf, int(d.BitDepth), d.WavAudioFormat == wavFormatFloat, true)
}

func decodeAIFF(data []byte) (Decoded, error) {
	d := aiff.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Decoded{}, fmt.Errorf("invalid aiff file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Decoded{}, fmt.Errorf("aiff pcm: %w", err)
	}
	return deinterleave(buf, int(d.BitDepth), false, false)
}

// deinterleave splits an integer PCM buffer into normalized channels.
// WAV stores 8-bit audio unsigned, AIFF signed.
func deinterleave(buf *goaudio.IntBuffer, bitDepth int, float, unsigned8 bool) (Decoded, error) {
	if buf == nil || buf.Format == nil {
		return Decoded{}, fmt.Errorf("missing pcm format")
	}
	numChans := buf.Format.NumChannels
	if numChans < 1 || numChans > 2 {
		return Decoded{}, fmt.Errorf("%w: %d", ErrUnsupportedChannels, numChans)
	}
	if bitDepth < 8 || bitDepth > 32 {
		return Decoded{}, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}

	frames := len(buf.Data) / numChans
	channels := make([][]float32, numChans)
	for c := range channels {
		channels[c] = make([]float32, frames)
	}

	scale := 1 / float64(int64(1)<<(bitDepth-1))
	for i := 0; i < frames*numChans; i++ {
		v := buf.Data[i]
		var s float32
		switch {
		case float && bitDepth == 32:
			s = math.Float32frombits(uint32(int32(v)))
		case bitDepth == 8 && unsigned8:
			s = float32(float64(v-128) * scale)
		default:
			s = float32(float64(v) * scale)
		}
		channels[i%numChans][i/numChans] = s
	}

	return Decoded{Channels: channels, SampleRate: buf.Format.SampleRate}, nil
}

func decodeMP3(data []byte) (Decoded, error) {
	s, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return Decoded{}, fmt.Errorf("mp3 decode: %w", err)
	}
	defer s.Close()

	if format.NumChannels < 1 || format.NumChannels > 2 {
		return Decoded{}, fmt.Errorf("%w: %d", ErrUnsupportedChannels, format.NumChannels)
	}

	channels := make([][]float32, format.NumChannels)
	for c := range channels {
		channels[c] = make([]float32, 0, s.Len())
	}

	chunk := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(chunk)
		for _, frame := range chunk[:n] {
			for c := range channels {
				channels[c] = append(channels[c], float32(frame[c]))
			}
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return Decoded{}, fmt.Errorf("mp3 stream: %w", err)
	}

	return Decoded{Channels: channels, SampleRate: int(format.SampleRate)}, nil
}
