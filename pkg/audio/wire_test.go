package audio_test

import (
	"testing"

	"github.com/runanywhere/racore/pkg/audio"
)

func TestFloat32ToInt16RoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1}
	pcm := audio.Float32ToInt16(samples)
	back, err := audio.Int16ToFloat32(pcm)
	if err != nil {
		t.Fatalf("Int16ToFloat32: %v", err)
	}
	if len(back) != len(samples) {
		t.Fatalf("length mismatch: got %d, want %d", len(back), len(samples))
	}
	for i, s := range samples {
		if diff := float64(back[i]) - float64(s); diff > 0.001 || diff < -0.001 {
			t.Errorf("sample %d: got %v, want %v", i, back[i], s)
		}
	}
}

func TestFloat32ToInt16Clamps(t *testing.T) {
	pcm := audio.Float32ToInt16([]float32{2, -2})
	back, err := audio.Int16ToFloat32(pcm)
	if err != nil {
		t.Fatalf("Int16ToFloat32: %v", err)
	}
	if back[0] < 0.99 {
		t.Errorf("expected clamped max sample near 1.0, got %v", back[0])
	}
	if back[1] > -0.99 {
		t.Errorf("expected clamped min sample near -1.0, got %v", back[1])
	}
}

func TestInt16ToFloat32RejectsOddLength(t *testing.T) {
	if _, err := audio.Int16ToFloat32([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for odd-length PCM data")
	}
}

func TestFloat32ToWAVHeader(t *testing.T) {
	wav := audio.Float32ToWAV([]float32{0, 0.5, -0.5}, 22050)
	if len(wav) < 44 {
		t.Fatalf("expected at least a 44-byte header, got %d bytes", len(wav))
	}
	if string(wav[0:4]) != "RIFF" {
		t.Fatalf("expected RIFF magic, got %q", wav[0:4])
	}
	if string(wav[8:12]) != "WAVE" {
		t.Fatalf("expected WAVE magic, got %q", wav[8:12])
	}

	samples, info, err := audio.WAVToFloat32(wav)
	if err != nil {
		t.Fatalf("WAVToFloat32: %v", err)
	}
	if info.SampleRate != 22050 {
		t.Errorf("sample rate: got %d, want 22050", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("channels: got %d, want 1", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("bits per sample: got %d, want 16", info.BitsPerSample)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples round-tripped, got %d", len(samples))
	}
}

func TestWAVToFloat32RejectsNonPCM(t *testing.T) {
	wav := audio.Float32ToWAV([]float32{0}, 16000)
	// Corrupt the audio format code (offset 20-22) to a non-PCM value.
	wav[20] = 3
	wav[21] = 0
	if _, _, err := audio.WAVToFloat32(wav); err == nil {
		t.Fatalf("expected error for non-PCM format code")
	}
}

func TestWAVToFloat32RejectsTruncatedData(t *testing.T) {
	if _, _, err := audio.WAVToFloat32([]byte("short")); err == nil {
		t.Fatalf("expected error for truncated WAV data")
	}
}
