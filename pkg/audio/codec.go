// Package audio provides the pure, stateless audio primitives shared by all
// three voice-bridge services: G.711 μ-law companding, mono linear
// resampling between integer sample rates, RMS-based level measurement, and
// base64 framing for the JSON wire protocol.
//
// None of these functions retain state or block; they are safe to call from
// any goroutine and are the lowest layer of the pipeline described by
// internal/bridge and internal/backend.
package audio

import (
	"encoding/base64"
	"math"
)

// mulaw companding constants per ITU-T G.711.
const (
	muBias    = 0x84
	muClip    = 32635
	muSignBit = 0x80
	muQuantMask = 0x0f
	muSegShift  = 4
	muSegMask   = 0x70
)

// mulawToLinearTable is the standard 256-entry decode table for G.711 μ-law,
// computed once at package init from the same bias/segment structure that
// MulawEncode uses to compand.
var mulawToLinearTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		mulawToLinearTable[i] = decodeMulaw(byte(i))
	}
}

// decodeMulaw converts a single μ-law byte to a signed 16-bit linear sample.
func decodeMulaw(b byte) int16 {
	b = ^b
	sign := b & muSignBit
	exponent := (b & muSegMask) >> muSegShift
	mantissa := b & muQuantMask

	sample := ((int32(mantissa) << 3) + muBias) << exponent
	sample -= muBias

	if sign != 0 {
		sample = -sample
	}
	if sample > 32767 {
		sample = 32767
	} else if sample < -32768 {
		sample = -32768
	}
	return int16(sample)
}

// encodeMulaw converts a signed 16-bit linear sample to a μ-law byte, the
// bit-exact inverse of decodeMulaw on the representable range.
func encodeMulaw(sample int16) byte {
	s := int32(sample)

	sign := byte(0)
	if s < 0 {
		sign = muSignBit
		s = -s
	}
	if s > muClip {
		s = muClip
	}
	s += muBias

	exponent := byte(7)
	for seg := int32(0x4000); s&seg == 0 && exponent > 0; seg >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & muQuantMask
	encoded := ^(sign | (exponent << muSegShift) | mantissa)
	return encoded
}

// MulawToPCM16 decodes a byte slice of μ-law samples into little-endian
// signed 16-bit linear PCM, two bytes per input byte.
func MulawToPCM16(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := mulawToLinearTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCM16ToMulaw companies little-endian signed 16-bit linear PCM into μ-law,
// one output byte per input sample. Odd trailing bytes are ignored.
func PCM16ToMulaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = encodeMulaw(s)
	}
	return out
}

// ResampleMono16 resamples little-endian signed 16-bit mono PCM from srcRate
// to dstRate by linear interpolation. Output length is
// round(inputSamples * dstRate / srcRate); the final sample is repeated to
// fill the last interpolation window rather than reading past the buffer.
// If srcRate == dstRate the input is returned unchanged (bit-identical),
// satisfying resampler idempotence.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}

	srcSamples := len(pcm) / 2
	dstSamples := int((int64(srcSamples)*int64(dstRate) + int64(srcRate)/2) / int64(srcRate))
	if dstSamples <= 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		if srcIdx >= srcSamples {
			srcIdx = srcSamples - 1
		}
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// RMS computes the root-mean-square level of little-endian signed 16-bit
// mono PCM, normalized to [0,1] by dividing by 32768. An empty or
// odd-length-truncated input returns 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sumSquares += s * s
	}
	mean := sumSquares / float64(n)
	return math.Sqrt(mean) / 32768
}

// EncodeBase64 encodes raw bytes (PCM or μ-law) for the JSON wire protocol.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 decodes a base64 payload from the JSON wire protocol.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
