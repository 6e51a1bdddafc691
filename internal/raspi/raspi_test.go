package raspi

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsRaspiModel(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"Raspberry Pi 4 Model B Rev 1.4\x00", true},
		{"Raspberry Pi 5 Model B Rev 1.0", true},
		{"NVIDIA Jetson Nano Developer Kit", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsRaspiModel([]byte(tt.model)); got != tt.want {
			t.Errorf("IsRaspiModel(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestOnRaspi(t *testing.T) {
	defer func(path string) { modelPath = path }(modelPath)

	path := filepath.Join(t.TempDir(), "model")
	if err := os.WriteFile(path, []byte("Raspberry Pi 4 Model B\x00"), 0644); err != nil {
		t.Fatal(err)
	}
	modelPath = path
	if !OnRaspi() {
		t.Error("expected a Raspberry Pi")
	}

	modelPath = filepath.Join(t.TempDir(), "missing")
	if OnRaspi() {
		t.Error("missing model file should not be a Raspberry Pi")
	}
}
