package audio

import (
	"math"
	"testing"
	"time"
)

func sine(n int, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*float64(i)/64))
	}
	return out
}

func TestDuration(t *testing.T) {
	if d := Duration(16000, 16000); d != time.Second {
		t.Fatalf("got %v, want 1s", d)
	}
	if d := Duration(4800, 16000); d != 300*time.Millisecond {
		t.Fatalf("got %v, want 300ms", d)
	}
}

func TestDBFSSilenceFloor(t *testing.T) {
	if db := DBFS(make([]float32, 1000)); db != -120 {
		t.Fatalf("silence should hit the floor, got %f", db)
	}
	if db := DBFS(nil); db != -120 {
		t.Fatalf("empty buffer should hit the floor, got %f", db)
	}
}

func TestDBFSFullScale(t *testing.T) {
	// A full-scale sine has RMS 1/sqrt(2), about -3 dBFS.
	db := DBFS(sine(6400, 1.0))
	if db < -3.2 || db > -2.8 {
		t.Fatalf("full-scale sine should be near -3 dBFS, got %f", db)
	}
}

func TestDBFSQuietSignal(t *testing.T) {
	// Amplitude 1e-3 puts RMS near -63 dBFS, well under a -55 gate.
	db := DBFS(sine(6400, 0.001))
	if db > -55 {
		t.Fatalf("expected a quiet signal below -55 dBFS, got %f", db)
	}
}

func TestPadSilence(t *testing.T) {
	samples := sine(8000, 0.5) // 0.5s at 16kHz
	padded := PadSilence(samples, 16000, 1500*time.Millisecond)
	if len(padded) != 24000 {
		t.Fatalf("expected 24000 samples, got %d", len(padded))
	}
	for _, s := range padded[8000:] {
		if s != 0 {
			t.Fatal("padding must be silence")
		}
	}
	// Already long enough: returned unchanged.
	long := sine(32000, 0.5)
	if got := PadSilence(long, 16000, 1500*time.Millisecond); len(got) != len(long) {
		t.Fatalf("long buffer should not be padded, got %d", len(got))
	}
}

func TestPCM16Clamps(t *testing.T) {
	pcm := PCM16([]float32{0, 1, -1, 2, -2})
	if len(pcm) != 10 {
		t.Fatalf("expected 10 bytes, got %d", len(pcm))
	}
	read := func(i int) int16 {
		return int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
	}
	if read(0) != 0 {
		t.Fatalf("sample 0: got %d", read(0))
	}
	if read(1) != math.MaxInt16 {
		t.Fatalf("sample 1: got %d", read(1))
	}
	if read(3) != math.MaxInt16 {
		t.Fatalf("clipped sample: got %d", read(3))
	}
	if read(4) != -math.MaxInt16 {
		t.Fatalf("clipped negative sample: got %d", read(4))
	}
}
