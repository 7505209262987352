package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConvertStrToInt(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    uint64
		wantErr bool
	}{
		{"hex prefix", "0x1000", 0x1000, false},
		{"upper hex", "0X1F00", 0x1f00, false},
		{"bare hex", "ff", 0xff, false},
		{"decimal", "4096", 4096, false},
		{"garbage", "zzz", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertStrToInt(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ConvertStrToInt() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ConvertStrToInt() = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestStrSliceHas(t *testing.T) {
	modes := []string{"local", "extern", "userland", "both"}
	if !StrSliceHas(modes, "Userland") {
		t.Errorf("StrSliceHas() = false, want true")
	}
	if StrSliceHas(modes, "user") {
		t.Errorf("StrSliceHas() = true for a prefix")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libfoo.dylib")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("new"), 0o755); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("WriteFileAtomic() wrote %q, want %q", got, "new")
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o755 {
		t.Errorf("WriteFileAtomic() perm = %v, want 0755", fi.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("WriteFileAtomic() left %d entries behind", len(entries))
	}
}
