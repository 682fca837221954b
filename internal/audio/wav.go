package audio

import (
	"encoding/binary"
	"fmt"
	"os"
)

// DecodeError represents an unreadable or unsupported audio file. It is
// fatal for the file being processed.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PCM represents decoded mono audio samples
type PCM struct {
	Samples    []float64
	SampleRate int
}

// DurationMs returns the total duration in milliseconds
func (p *PCM) DurationMs() int64 {
	if p.SampleRate == 0 {
		return 0
	}
	return int64(len(p.Samples)) * 1000 / int64(p.SampleRate)
}

// WAVHeader represents a canonical 44-byte PCM WAV header
type WAVHeader struct {
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// DecodeWAVFile reads a PCM WAV file and downmixes it to mono float samples
// in [-1, 1]. Only uncompressed 16-bit PCM is supported; anything else
// returns a DecodeError.
func DecodeWAVFile(path string) (*PCM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	pcm, err := DecodeWAV(data)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return pcm, nil
}

// DecodeWAV decodes PCM WAV bytes into mono float samples
func DecodeWAV(data []byte) (*PCM, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("file too short for RIFF header")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	var header WAVHeader
	var sampleData []byte

	// Walk the chunk list; files in the wild carry LIST/INFO and other
	// chunks between fmt and data.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, fmt.Errorf("unsupported audio format %d (only PCM)", audioFormat)
			}
			header.NumChannels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			header.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			header.BitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
		case "data":
			sampleData = data[body : body+chunkSize]
			header.DataSize = uint32(chunkSize)
		}

		// Chunks are word-aligned
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if header.SampleRate == 0 || header.NumChannels == 0 {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if sampleData == nil {
		return nil, fmt.Errorf("missing data chunk")
	}
	if header.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d (only 16-bit PCM)", header.BitsPerSample)
	}

	channels := int(header.NumChannels)
	frameSize := channels * 2
	frames := len(sampleData) / frameSize

	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		// Downmix by averaging channels
		var sum float64
		for ch := 0; ch < channels; ch++ {
			raw := int16(binary.LittleEndian.Uint16(sampleData[i*frameSize+ch*2:]))
			sum += float64(raw) / 32768.0
		}
		samples[i] = sum / float64(channels)
	}

	return &PCM{Samples: samples, SampleRate: int(header.SampleRate)}, nil
}

// EncodeWAV encodes mono float samples as a 16-bit PCM WAV byte slice,
// suitable for handing one chunk to the speech recognition service.
func EncodeWAV(samples []float64, sampleRate int) []byte {
	dataSize := len(samples) * 2
	out := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")

	// "fmt " sub-chunk
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(out[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(out[34:36], 16)                   // bits per sample

	// "data" sub-chunk
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	for i, sample := range samples {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		binary.LittleEndian.PutUint16(out[44+i*2:], uint16(int16(sample*32767)))
	}

	return out
}
