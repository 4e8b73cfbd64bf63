package replay

import (
	"encoding/binary"
	"fmt"
	"io"
)

// readWAV parses a canonical RIFF/WAVE file and returns its raw PCM
// payload. It is the mirror of asrproc's encodeWAV: it accepts only mono
// 16-bit PCM (format tag 1), the shape the harness's golden fixtures are
// authored in (§4.10 "reads a mono 16-bit PCM WAV").
func readWAV(r io.Reader) (pcm []byte, sampleRate int, err error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, fmt.Errorf("replay: read riff header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("replay: not a RIFF/WAVE file")
	}

	var (
		numChannels   uint16
		bitsPerSample uint16
		sawFmt        bool
	)

	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, 0, fmt.Errorf("replay: read chunk header: %w", err)
		}
		id := string(chunkHeader[0:4])
		size := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("replay: read fmt chunk: %w", err)
			}
			formatTag := binary.LittleEndian.Uint16(body[0:2])
			numChannels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			if formatTag != 1 {
				return nil, 0, fmt.Errorf("replay: unsupported wav format tag %d, want PCM (1)", formatTag)
			}
			sawFmt = true
		case "data":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("replay: read data chunk: %w", err)
			}
			pcm = body
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return nil, 0, fmt.Errorf("replay: skip chunk %q: %w", id, err)
			}
		}
		if size%2 == 1 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				break
			}
		}
	}

	if !sawFmt {
		return nil, 0, fmt.Errorf("replay: wav missing fmt chunk")
	}
	if pcm == nil {
		return nil, 0, fmt.Errorf("replay: wav missing data chunk")
	}
	if numChannels != 1 {
		return nil, 0, fmt.Errorf("replay: wav has %d channels, want mono", numChannels)
	}
	if bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("replay: wav has %d-bit samples, want 16-bit", bitsPerSample)
	}
	return pcm, sampleRate, nil
}
