package audio

import (
	"math"
	"time"
)

// Float32 mono samples. The capture device delivers them via callback; the
// orchestrator accumulates them here for the life of one recording session.

// Duration converts a sample count at the given rate to wall time.
func Duration(samples int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// RMS computes the root-mean-square amplitude of the buffer.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DBFS converts the buffer's RMS amplitude to decibels relative to full
// scale. Silence maps to a floor of -120 dBFS rather than -Inf.
func DBFS(samples []float32) float64 {
	rms := RMS(samples)
	if rms <= 0 {
		return -120
	}
	db := 20 * math.Log10(rms)
	if db < -120 {
		return -120
	}
	return db
}

// PadSilence extends the buffer with trailing zeros until it covers at least
// minDuration at the given rate.
func PadSilence(samples []float32, sampleRate int, minDuration time.Duration) []float32 {
	want := int(minDuration.Seconds() * float64(sampleRate))
	if len(samples) >= want {
		return samples
	}
	padded := make([]float32, want)
	copy(padded, samples)
	return padded
}

// PCM16 converts float32 samples in [-1, 1] to 16-bit little-endian PCM.
func PCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * math.MaxInt16)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
