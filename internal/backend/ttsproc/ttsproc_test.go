package ttsproc_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghostengineai/glyphonic/internal/backend/ttsproc"
)

// fakeTTSScript writes a POSIX shell script standing in for a real TTS
// binary: it parses -output and writes fixed bytes there.
func fakeTTSScript(t *testing.T, pcmByteCount int, exitCode int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-tts.sh")
	script := `#!/bin/sh
out=""
while [ "$#" -gt 0 ]; do
  case "$1" in
    -output) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
if [ -n "$out" ]; then
  head -c ` + itoa(pcmByteCount) + ` /dev/zero > "$out"
fi
exit ` + itoa(exitCode) + `
`
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestSynthesize_Success(t *testing.T) {
	bin := fakeTTSScript(t, 640, 0)
	r := ttsproc.New(ttsproc.Config{BinaryPath: bin, Timeout: 5 * time.Second})

	pcm, err := r.Synthesize(context.Background(), "hello", 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pcm) != 640 {
		t.Errorf("len(pcm) = %d, want 640", len(pcm))
	}
}

func TestSynthesize_NonZeroExit(t *testing.T) {
	bin := fakeTTSScript(t, 0, 1)
	r := ttsproc.New(ttsproc.Config{BinaryPath: bin, Timeout: 5 * time.Second})

	_, err := r.Synthesize(context.Background(), "hello", 16000)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}

func TestFrameSize20ms(t *testing.T) {
	cases := map[int]int{8000: 320, 16000: 640, 24000: 960}
	for rate, want := range cases {
		if got := ttsproc.FrameSize20ms(rate); got != want {
			t.Errorf("FrameSize20ms(%d) = %d, want %d", rate, got, want)
		}
	}
}

func TestSplitFrames_EvenAndTrailingPartial(t *testing.T) {
	pcm := make([]byte, 1000)
	frames := ttsproc.SplitFrames(pcm, 300)
	if len(frames) != 4 {
		t.Fatalf("len(frames) = %d, want 4", len(frames))
	}
	if len(frames[3]) != 100 {
		t.Errorf("last frame len = %d, want 100", len(frames[3]))
	}
	for i, f := range frames[:3] {
		if len(f) != 300 {
			t.Errorf("frame[%d] len = %d, want 300", i, len(f))
		}
	}
}

func TestSplitFrames_Empty(t *testing.T) {
	if frames := ttsproc.SplitFrames(nil, 320); frames != nil {
		t.Errorf("expected nil frames for empty input, got %v", frames)
	}
}
