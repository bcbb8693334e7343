package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempSourceFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResumeState_SaveLoadRoundTrip(t *testing.T) {
	local := tempSourceFile(t, 100)
	path := ResumeStatePath(local)

	in := &ResumeState{
		UploadURL:  "https://uploads.example.com/upload/abc",
		Offset:     40,
		TotalSize:  100,
		ChunkSize:  10,
		CreatedAt:  time.Now().Truncate(time.Second),
		LastUpdate: time.Now().Truncate(time.Second),
	}
	if err := SaveResumeState(path, in); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	out, err := LoadResumeState(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if out == nil {
		t.Fatal("expected state, got nil")
	}
	if out.UploadURL != in.UploadURL || out.Offset != in.Offset || out.TotalSize != in.TotalSize {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestLoadResumeState_Missing(t *testing.T) {
	st, err := LoadResumeState(filepath.Join(t.TempDir(), "none.upload.resume"))
	if err != nil {
		t.Fatalf("missing sidecar must not error, got %v", err)
	}
	if st != nil {
		t.Fatal("expected nil state for missing sidecar")
	}
}

func TestValidateResumeState_Valid(t *testing.T) {
	local := tempSourceFile(t, 64)
	st := &ResumeState{
		UploadURL: "https://uploads.example.com/upload/abc",
		Offset:    32,
		TotalSize: 64,
		CreatedAt: time.Now(),
	}
	if err := ValidateResumeState(st, local); err != nil {
		t.Fatalf("expected valid state, got %v", err)
	}
}

func TestValidateResumeState_SizeChanged(t *testing.T) {
	local := tempSourceFile(t, 64)
	st := &ResumeState{
		UploadURL: "https://uploads.example.com/upload/abc",
		TotalSize: 128,
		CreatedAt: time.Now(),
	}
	if err := ValidateResumeState(st, local); err == nil {
		t.Fatal("expected error for changed source size")
	}
}

func TestValidateResumeState_Expired(t *testing.T) {
	local := tempSourceFile(t, 64)
	st := &ResumeState{
		UploadURL: "https://uploads.example.com/upload/abc",
		TotalSize: 64,
		CreatedAt: time.Now().Add(-MaxResumeAge - time.Hour),
	}
	if err := ValidateResumeState(st, local); err == nil {
		t.Fatal("expected error for expired state")
	}
}

func TestValidateResumeState_MissingURL(t *testing.T) {
	local := tempSourceFile(t, 64)
	st := &ResumeState{TotalSize: 64, CreatedAt: time.Now()}
	if err := ValidateResumeState(st, local); err == nil {
		t.Fatal("expected error for missing upload URL")
	}
}

func TestDeleteResumeState_Idempotent(t *testing.T) {
	local := tempSourceFile(t, 10)
	path := ResumeStatePath(local)

	if err := SaveResumeState(path, &ResumeState{UploadURL: "u", TotalSize: 10, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := DeleteResumeState(path); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := DeleteResumeState(path); err != nil {
		t.Fatalf("second delete must be a no-op, got %v", err)
	}
}
