package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultSampleRate is the XTTS output rate and the rate used for generated audio.
const DefaultSampleRate = 22050

var ErrInvalidWAV = errors.New("invalid wav data")

// Format describes an uncompressed PCM stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// PCM16Mono returns the 16-bit mono format at sampleRate.
func PCM16Mono(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
}

// WAV is a parsed RIFF/WAVE container.
type WAV struct {
	Format Format
	Data   []byte
}

// byteRate is the number of bytes per second of audio.
func (f Format) byteRate() uint32 {
	return uint32(f.SampleRate * f.Channels * f.BitsPerSample / 8)
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return EncodeWAV(PCM16Mono(sampleRate), pcm)
}

// EncodeWAV wraps raw PCM bytes in a WAV container.
func EncodeWAV(f Format, pcm []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVTo(&buf, f, pcm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVTo writes raw PCM bytes to out as a WAV stream.
func WriteWAVTo(out io.Writer, f Format, pcm []byte) error {
	const audioFormat = 1 // PCM
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("%w: unsupported format %+v", ErrInvalidWAV, f)
	}

	dataSize := uint32(len(pcm))
	blockAlign := uint16(f.Channels * f.BitsPerSample / 8)

	w := bufio.NewWriter(out)
	fields := []any{
		[]byte("RIFF"),
		uint32(36) + dataSize,
		[]byte("WAVE"),
		[]byte("fmt "),
		uint32(16),
		uint16(audioFormat),
		uint16(f.Channels),
		uint32(f.SampleRate),
		f.byteRate(),
		blockAlign,
		uint16(f.BitsPerSample),
		[]byte("data"),
		dataSize,
	}
	for _, v := range fields {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// ParseWAV reads the fmt and data chunks of a RIFF/WAVE container.
// Unknown chunks are skipped. A data chunk whose declared size runs past the
// end of input (streamed WAVs) is truncated to the available bytes.
func ParseWAV(b []byte) (WAV, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return WAV{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		out     WAV
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if size < 0 || end > len(b) || end < body {
			end = len(b)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return WAV{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			out.Format = Format{
				Channels:      int(binary.LittleEndian.Uint16(b[body+2 : body+4])),
				SampleRate:    int(binary.LittleEndian.Uint32(b[body+4 : body+8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(b[body+14 : body+16])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAV{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			out.Data = b[body:end]
			return out, nil
		}

		pos = end
		if size%2 == 1 && pos < len(b) {
			pos++
		}
	}
	return WAV{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

// JoinWAV concatenates WAV containers with identical formats into one container.
func JoinWAV(parts [][]byte) ([]byte, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: nothing to join", ErrInvalidWAV)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	var (
		format Format
		pcm    bytes.Buffer
	)
	for i, part := range parts {
		w, err := ParseWAV(part)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		if i == 0 {
			format = w.Format
		} else if w.Format != format {
			return nil, fmt.Errorf("%w: part %d format %+v differs from %+v", ErrInvalidWAV, i, w.Format, format)
		}
		pcm.Write(w.Data)
	}
	return EncodeWAV(format, pcm.Bytes())
}

// SampleRateOf returns the sample rate declared by a WAV header, or fallback.
func SampleRateOf(b []byte, fallback int) int {
	w, err := ParseWAV(b)
	if err != nil || w.Format.SampleRate <= 0 {
		return fallback
	}
	return w.Format.SampleRate
}

// Silence returns a mono PCM16 WAV containing the given number of zero samples.
func Silence(sampleRate int, samples int) ([]byte, error) {
	if samples < 0 {
		samples = 0
	}
	return EncodeWAVPCM16LE(make([]byte, samples*2), sampleRate)
}
