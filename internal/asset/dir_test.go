package asset

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"hlsrescue/internal/manifest"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"MOVIE-001", "MOVIE-001"},
		{" padded ", "padded"},
		{`a/b\c:d`, "a_b_c_d"},
		{`x<y>z?`, "x_y_z_"},
	}
	for _, tt := range tests {
		if got := SanitizeIdentifier(tt.in); got != tt.expected {
			t.Errorf("SanitizeIdentifier(%q) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}

func TestDir_SegmentPath(t *testing.T) {
	d := New("/data", "vid")
	if got := d.SegmentPath(42); got != filepath.Join("/data", "vid", "segment_00042.ts") {
		t.Errorf("unexpected segment path %s", got)
	}
}

func TestDir_PlaylistRoundTrip(t *testing.T) {
	d := New(t.TempDir(), "vid")
	if err := d.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	text := "#EXTM3U\n#EXTINF:4.0,\nseg000.ts\n"
	if err := d.WritePlaylist(text); err != nil {
		t.Fatalf("WritePlaylist failed: %v", err)
	}
	got, err := d.ReadPlaylist()
	if err != nil {
		t.Fatalf("ReadPlaylist failed: %v", err)
	}
	if got != text {
		t.Errorf("playlist round trip mismatch: %q", got)
	}
}

func TestDir_EncryptionInfoRoundTrip(t *testing.T) {
	d := New(t.TempDir(), "vid")
	if err := d.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	enc := &manifest.Encryption{
		Method: manifest.EncryptionMethodAES128,
		KeyURI: "https://h/keys/video.key",
		IV:     []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
	}
	if err := d.WriteEncryptionInfo(InfoFor(enc)); err != nil {
		t.Fatalf("WriteEncryptionInfo failed: %v", err)
	}

	info, err := d.ReadEncryptionInfo()
	if err != nil {
		t.Fatalf("ReadEncryptionInfo failed: %v", err)
	}
	if !info.IsEncrypted {
		t.Fatal("expected is_encrypted true")
	}
	back, err := info.Descriptor()
	if err != nil {
		t.Fatalf("Descriptor failed: %v", err)
	}
	if back.Method != enc.Method || back.KeyURI != enc.KeyURI || !bytes.Equal(back.IV, enc.IV) {
		t.Errorf("descriptor round trip mismatch: %+v", back)
	}
}

func TestDir_UnencryptedInfo(t *testing.T) {
	d := New(t.TempDir(), "vid")
	if err := d.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := d.WriteEncryptionInfo(InfoFor(nil)); err != nil {
		t.Fatalf("WriteEncryptionInfo failed: %v", err)
	}

	info, err := d.ReadEncryptionInfo()
	if err != nil {
		t.Fatalf("ReadEncryptionInfo failed: %v", err)
	}
	if info.IsEncrypted {
		t.Error("expected is_encrypted false")
	}
	desc, err := info.Descriptor()
	if err != nil {
		t.Fatalf("Descriptor failed: %v", err)
	}
	if desc != nil {
		t.Error("expected nil descriptor for unencrypted asset")
	}
}

func TestDir_ContentLengths(t *testing.T) {
	d := New(t.TempDir(), "vid")
	if err := d.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if got := d.ReadContentLengths(); len(got) != 0 {
		t.Fatalf("expected empty index before any write, got %v", got)
	}

	if err := d.WriteContentLengths(map[int]int64{0: 1000, 3: 2048}); err != nil {
		t.Fatalf("WriteContentLengths failed: %v", err)
	}
	if err := d.MergeContentLengths(map[int]int64{3: 4096, 5: 512}); err != nil {
		t.Fatalf("MergeContentLengths failed: %v", err)
	}

	got := d.ReadContentLengths()
	want := map[int]int64{0: 1000, 3: 4096, 5: 512}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for idx, size := range want {
		if got[idx] != size {
			t.Errorf("index %d: expected %d, got %d", idx, size, got[idx])
		}
	}
}

func TestDir_MissingMetadata(t *testing.T) {
	d := New(t.TempDir(), "vid")
	if err := d.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	missing := d.MissingMetadata()
	if len(missing) != 3 {
		t.Fatalf("expected 3 missing files in a fresh dir, got %v", missing)
	}

	if err := d.WritePlaylist("#EXTM3U\n"); err != nil {
		t.Fatal(err)
	}
	if err := d.EnsureContentLengths(); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteEncryptionInfo(InfoFor(nil)); err != nil {
		t.Fatal(err)
	}
	if missing := d.MissingMetadata(); len(missing) != 0 {
		t.Fatalf("expected no missing metadata, got %v", missing)
	}

	// An encrypted asset additionally requires the key file.
	enc := &manifest.Encryption{Method: manifest.EncryptionMethodAES128, KeyURI: "https://h/k"}
	if err := d.WriteEncryptionInfo(InfoFor(enc)); err != nil {
		t.Fatal(err)
	}
	missing = d.MissingMetadata()
	if len(missing) != 1 || missing[0] != EncryptionKeyFile {
		t.Fatalf("expected only %s missing, got %v", EncryptionKeyFile, missing)
	}
	if err := d.WriteKey([]byte("0123456789abcdef")); err != nil {
		t.Fatal(err)
	}
	if missing := d.MissingMetadata(); len(missing) != 0 {
		t.Fatalf("expected no missing metadata after key write, got %v", missing)
	}
}

func TestDir_EnsureContentLengthsKeepsExisting(t *testing.T) {
	d := New(t.TempDir(), "vid")
	if err := d.Create(); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteContentLengths(map[int]int64{1: 99}); err != nil {
		t.Fatal(err)
	}
	if err := d.EnsureContentLengths(); err != nil {
		t.Fatal(err)
	}
	if got := d.ReadContentLengths(); got[1] != 99 {
		t.Errorf("EnsureContentLengths overwrote existing index: %v", got)
	}

	// Sanity: file actually exists on disk.
	if _, err := os.Stat(filepath.Join(d.Path(), ContentLengthsFile)); err != nil {
		t.Fatal(err)
	}
}
