package audio

import (
	"testing"
)

func TestEncodePCM16(t *testing.T) {
	tests := []struct {
		name   string
		sample float32
		want   int16
	}{
		{"full scale positive", 1.0, 32767},
		{"full scale negative", -1.0, -32768},
		{"silence", 0, 0},
		{"half scale positive", 0.5, 16384},
		{"half scale negative", -0.5, -16384},
		{"clamped above", 2.5, 32767},
		{"clamped below", -3.0, -32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodePCM16([]float32{tt.sample})
			if len(got) != 1 {
				t.Fatalf("Expected 1 sample, got %d", len(got))
			}
			if got[0] != tt.want {
				t.Errorf("EncodePCM16(%v) = %d, want %d", tt.sample, got[0], tt.want)
			}
		})
	}
}

func TestEncodePCM16_AsymmetricScaling(t *testing.T) {
	// Positive samples scale by 32767, negative by 32768, so the same
	// magnitude lands on different absolute values.
	got := EncodePCM16([]float32{0.25, -0.25})
	if got[0] != 8192 {
		t.Errorf("Expected 0.25 -> 8192, got %d", got[0])
	}
	if got[1] != -8192 {
		t.Errorf("Expected -0.25 -> -8192, got %d", got[1])
	}
}

func TestMarshalPCM16RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}

	data := MarshalPCM16(samples)
	if len(data) != len(samples)*2 {
		t.Fatalf("Expected %d bytes, got %d", len(samples)*2, len(data))
	}

	// Spot-check little-endian layout for the second sample (value 1).
	if data[2] != 0x01 || data[3] != 0x00 {
		t.Errorf("Expected little-endian encoding, got % x", data[2:4])
	}

	back := UnmarshalPCM16(data)
	if len(back) != len(samples) {
		t.Fatalf("Expected %d samples back, got %d", len(samples), len(back))
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], back[i])
		}
	}
}

func TestFrameBuffer(t *testing.T) {
	buf := frameBuffer{size: 4}

	var frames [][]float32
	emit := func(frame []float32) {
		frames = append(frames, frame)
	}

	// Partial push emits nothing.
	buf.Push([]float32{1, 2, 3}, emit)
	if len(frames) != 0 {
		t.Fatalf("Expected no frames yet, got %d", len(frames))
	}

	// Crossing the frame boundary emits one full frame, keeps the remainder.
	buf.Push([]float32{4, 5}, emit)
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	want := []float32{1, 2, 3, 4}
	for i, v := range want {
		if frames[0][i] != v {
			t.Errorf("Frame sample %d: expected %v, got %v", i, v, frames[0][i])
		}
	}

	// A large push emits multiple frames in order.
	buf.Push([]float32{6, 7, 8, 9, 10, 11, 12}, emit)
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames total, got %d", len(frames))
	}
	if frames[1][0] != 5 || frames[2][0] != 9 {
		t.Errorf("Frames emitted out of order: %v, %v", frames[1], frames[2])
	}
}

func TestMicrophoneStopWithoutStart(t *testing.T) {
	mic := NewMicrophone(DefaultMicrophoneConfig(), nil)

	// Stop must be safe before Start and when called repeatedly.
	if err := mic.Stop(); err != nil {
		t.Errorf("Stop before Start returned error: %v", err)
	}
	if err := mic.Stop(); err != nil {
		t.Errorf("Second Stop returned error: %v", err)
	}
}
