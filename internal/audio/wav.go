// Package audio holds the PCM plumbing between the speech engine and the
// playback device.
package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotPCM16 is returned for WAV streams that are not 16-bit PCM.
var ErrNotPCM16 = errors.New("wav: not 16-bit PCM")

// PCM is decoded 16-bit little-endian audio.
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Duration of one channel of samples.
func (p PCM) Seconds() float64 {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.Channels) / float64(p.SampleRate)
}

type wavHeader struct {
	Riff          [4]byte
	RiffSize      uint32
	Wave          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAV wraps mono PCM16 samples in a WAV container.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, samples, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVFile writes mono PCM16 samples to path.
func WriteWAVFile(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteWAV writes a canonical 44-byte header followed by the samples.
func WriteWAV(out io.Writer, samples []int16, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("wav: invalid sample rate %d", sampleRate)
	}
	dataSize := uint32(len(samples) * 2)
	h := wavHeader{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:      36 + dataSize,
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	w := bufio.NewWriter(out)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return err
	}
	return w.Flush()
}

// ReadWAVFile decodes a PCM16 WAV file.
func ReadWAVFile(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, err
	}
	defer f.Close()
	return DecodeWAV(bufio.NewReader(f))
}

// DecodeWAV reads a RIFF/WAVE stream, skipping chunks other than fmt and
// data. Only uncompressed 16-bit PCM is accepted.
func DecodeWAV(r io.Reader) (PCM, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return PCM{}, fmt.Errorf("wav: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return PCM{}, errors.New("wav: missing RIFF/WAVE header")
	}

	var (
		out     PCM
		haveFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return PCM{}, fmt.Errorf("wav: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return PCM{}, fmt.Errorf("wav: fmt chunk too short (%d)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return PCM{}, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != 16 {
				return PCM{}, fmt.Errorf("%w (format %d, %d bits)", ErrNotPCM16, format, bits)
			}
			out.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return PCM{}, errors.New("wav: data chunk before fmt chunk")
			}
			raw := make([]byte, size)
			n, err := io.ReadFull(r, raw)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return PCM{}, fmt.Errorf("wav: read data chunk: %w", err)
			}
			out.Samples = BytesToSamples(raw[:n])
			return out, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)+int64(size%2)); err != nil {
				return PCM{}, fmt.Errorf("wav: skip %q chunk: %w", id, err)
			}
		}
	}
}

// SamplesToBytes encodes samples as little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples decodes little-endian bytes; a trailing odd byte is dropped.
func BytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Mono averages interleaved channels into one.
func (p PCM) Mono() []int16 {
	if p.Channels <= 1 {
		return p.Samples
	}
	frames := len(p.Samples) / p.Channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < p.Channels; c++ {
			sum += int(p.Samples[i*p.Channels+c])
		}
		out[i] = int16(sum / p.Channels)
	}
	return out
}
