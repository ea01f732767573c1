package fetch

import (
	"bytes"
	"testing"

	"hlsrescue/internal/manifest"
)

func TestDecryptAES128_RoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := bytes.Repeat([]byte{7}, 16)
	plain := []byte("short payload")

	cipherText := encryptForTest(t, plain, key, iv)
	got, err := decryptAES128(cipherText, key, iv)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestDecryptAES128_RejectsBadInput(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := make([]byte, 16)

	if _, err := decryptAES128([]byte("not-block-aligned"), key, iv); err == nil {
		t.Error("expected error for unaligned ciphertext")
	}
	if _, err := decryptAES128(nil, key, iv); err == nil {
		t.Error("expected error for empty ciphertext")
	}
	if _, err := decryptAES128(make([]byte, 32), []byte("short"), iv); err == nil {
		t.Error("expected error for bad key size")
	}
	if _, err := decryptAES128(make([]byte, 32), key, []byte{1, 2}); err == nil {
		t.Error("expected error for bad IV size")
	}
}

func TestSegmentIV(t *testing.T) {
	enc := &manifest.Encryption{Method: manifest.EncryptionMethodAES128}

	// No explicit IV: big-endian segment index.
	iv := segmentIV(enc, 258)
	want := make([]byte, 16)
	want[14], want[15] = 1, 2
	if !bytes.Equal(iv, want) {
		t.Errorf("derived IV = %x, expected %x", iv, want)
	}

	// Explicit IV wins and is left-padded to the block size.
	enc.IV = []byte{0xaa, 0xbb}
	iv = segmentIV(enc, 258)
	want = make([]byte, 16)
	want[14], want[15] = 0xaa, 0xbb
	if !bytes.Equal(iv, want) {
		t.Errorf("explicit IV = %x, expected %x", iv, want)
	}
}
