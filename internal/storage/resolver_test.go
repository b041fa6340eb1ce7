package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolver_Path(t *testing.T) {
	r := NewResolver("/sdcard/DCIM")
	cases := []struct {
		locator string
		want    string
		wantErr bool
	}{
		{"/dcim/100ABC/IMG_01.JPG", "/sdcard/DCIM/100ABC/IMG_01.JPG", false},
		{"http://192.168.1.1/files/abcde/100RICOH/R0011607.JPG", "/sdcard/DCIM/100RICOH/R0011607.JPG", false},
		{"100ABC/IMG_01.JPG", "/sdcard/DCIM/100ABC/IMG_01.JPG", false},
		{"IMG_01.JPG", "", true},
		{"", "", true},
		{"/dcim/../IMG_01.JPG", "", true},
		{"/dcim/100ABC/..", "", true},
		{"/dcim//IMG_01.JPG", "", true},
		{`/dcim/100ABC/..\x`, "", true},
	}
	for _, tc := range cases {
		got, err := r.Path(tc.locator)
		if tc.wantErr {
			if !errors.Is(err, ErrStorageResolution) {
				t.Errorf("Path(%q): err = %v, want ErrStorageResolution", tc.locator, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Path(%q): %v", tc.locator, err)
			continue
		}
		if got != filepath.FromSlash(tc.want) {
			t.Errorf("Path(%q) = %q, want %q", tc.locator, got, tc.want)
		}
	}
}

func TestResolver_NoRoot(t *testing.T) {
	if _, err := NewResolver("").Path("/a/b.jpg"); !errors.Is(err, ErrStorageResolution) {
		t.Errorf("err = %v, want ErrStorageResolution", err)
	}
}

func TestResolver_Open(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "100ABC"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "100ABC", "IMG_01.JPG"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(root)

	f, err := r.Open("/dcim/100ABC/IMG_01.JPG")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.Close()

	if _, err := r.Open("/dcim/100ABC/MISSING.JPG"); !errors.Is(err, ErrStorageResolution) {
		t.Errorf("missing: err = %v, want ErrStorageResolution", err)
	}
	if err := os.Mkdir(filepath.Join(root, "100ABC", "SUB"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Open("/dcim/100ABC/SUB"); !errors.Is(err, ErrStorageResolution) {
		t.Errorf("directory: err = %v, want ErrStorageResolution", err)
	}
}
