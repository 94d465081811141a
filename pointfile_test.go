package covertree

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadPointFile_RoundTrip(t *testing.T) {
	points := NewPointSet([]float64{0, 1, 2, 3, 4, 5}, 3, 2)
	path := filepath.Join(t.TempDir(), "points.bin")

	if err := WritePointFile(path, points); err != nil {
		t.Fatalf("WritePointFile: %v", err)
	}

	got, err := ReadPointFile(path)
	if err != nil {
		t.Fatalf("ReadPointFile: %v", err)
	}
	if got.Len() != points.Len() || got.Dims() != points.Dims() {
		t.Fatalf("shape = (%d,%d), want (%d,%d)", got.Len(), got.Dims(), points.Len(), points.Dims())
	}
	for i := 0; i < points.Len(); i++ {
		wa, ga := points.At(i), got.At(i)
		for j := range wa {
			if wa[j] != ga[j] {
				t.Errorf("point %d coord %d = %v, want %v", i, j, ga[j], wa[j])
			}
		}
	}
}

func TestReadPointFile_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := os.WriteFile(path, make([]byte, pointFileHeaderSize), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := ReadPointFile(path)
	if err == nil {
		t.Fatal("expected an error for bad magic")
	}
	if _, ok := err.(*InputError); !ok {
		t.Errorf("err = %T, want *InputError", err)
	}
}

func TestReadPointFile_MissingFile(t *testing.T) {
	_, err := ReadPointFile(filepath.Join(t.TempDir(), "nonexistent.bin"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if _, ok := err.(*InputError); !ok {
		t.Errorf("err = %T, want *InputError", err)
	}
}
