package replay

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildWAV encodes pcm16 (mono, 16-bit LE) as a canonical RIFF/WAVE file at
// sampleRate, mirroring asrproc's encodeWAV so the harness's own fixtures
// exercise the same header shape the ASR runner writes.
func buildWAV(pcm16 []byte, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8
	dataLen := len(pcm16)

	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], numChannels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	copy(buf[44:], pcm16)
	return buf
}

func TestReadWAV_RoundTrips(t *testing.T) {
	pcm := make([]byte, 640)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	raw := buildWAV(pcm, 16000)

	got, rate, err := readWAV(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("readWAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("pcm mismatch: got %d bytes, want %d", len(got), len(pcm))
	}
}

func TestReadWAV_RejectsStereo(t *testing.T) {
	raw := buildWAV(make([]byte, 640), 16000)
	binary.LittleEndian.PutUint16(raw[22:24], 2) // numChannels = 2

	_, _, err := readWAV(bytes.NewReader(raw))
	if err == nil {
		t.Fatal("expected error for stereo wav")
	}
}

func TestReadWAV_RejectsNotRIFF(t *testing.T) {
	_, _, err := readWAV(bytes.NewReader([]byte("not a wav file at all")))
	if err == nil {
		t.Fatal("expected error for non-RIFF input")
	}
}

func TestReadWAV_SkipsUnknownChunks(t *testing.T) {
	raw := buildWAV([]byte{1, 2, 3, 4}, 16000)
	// Splice a LIST chunk in between fmt and data.
	fmtEnd := 12 + 8 + 16
	extra := make([]byte, 8+4)
	copy(extra[0:4], "LIST")
	binary.LittleEndian.PutUint32(extra[4:8], 4)
	spliced := append(append(append([]byte{}, raw[:fmtEnd]...), extra...), raw[fmtEnd:]...)

	pcm, rate, err := readWAV(bytes.NewReader(spliced))
	if err != nil {
		t.Fatalf("readWAV: %v", err)
	}
	if rate != 16000 || !bytes.Equal(pcm, []byte{1, 2, 3, 4}) {
		t.Errorf("got pcm=%v rate=%d", pcm, rate)
	}
}
