package media

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseFourCC(t *testing.T) {
	tests := []struct {
		in   string
		want FourCC
	}{
		{"420v", PixelFormat420v},
		{"420f", PixelFormat420f},
		{"yuvs", PixelFormatYUVS},
		{"2vuy", PixelFormat2VUY},
		{"BGRA", PixelFormatBGRA},
		{"YUYV", PixelFormatYUYV},
		{"MJPG", PixelFormatMJPG},
		{"NV12", PixelFormatNV12},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFourCC(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %#x, got %#x", uint32(tt.want), uint32(got))
			}
			if got.String() != tt.in {
				t.Errorf("expected %q, got %q", tt.in, got.String())
			}
		})
	}
}

func TestParseFourCCRejectsBadLength(t *testing.T) {
	for _, in := range []string{"", "420", "420vv"} {
		if _, err := ParseFourCC(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestFourCCJSON(t *testing.T) {
	type wrapper struct {
		Format FourCC `json:"format"`
	}

	data, err := json.Marshal(wrapper{Format: PixelFormat420v})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"format":"420v"}` {
		t.Fatalf("unexpected encoding %s", data)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"format":"MJPG"}`), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.Format != PixelFormatMJPG {
		t.Errorf("expected MJPG, got %s", w.Format)
	}
}

func TestMinFrameDuration(t *testing.T) {
	r := FrameRateRange{Min: 1, Max: 25}
	if got := r.MinFrameDuration(); got != 40*time.Millisecond {
		t.Errorf("expected 40ms, got %v", got)
	}
	if got := (FrameRateRange{}).MinFrameDuration(); got != 0 {
		t.Errorf("expected 0 for empty range, got %v", got)
	}
}

func TestHasDeviceType(t *testing.T) {
	if !HasDeviceType(VideoDeviceTypes, DeviceTypeBuiltInWideAngleCamera) {
		t.Error("video filter should include the built-in camera")
	}
	if HasDeviceType(VideoDeviceTypes, DeviceTypeBuiltInMicrophone) {
		t.Error("video filter should not include the built-in microphone")
	}
	if !HasDeviceType(AudioDeviceTypes, DeviceTypeExternalUnknown) {
		t.Error("audio filter should include external devices")
	}
}
