// Package manifest turns raw HLS playlist text into an ordered segment manifest.
package manifest

import "fmt"

// ByteRange describes a sub-range of a segment resource (#EXT-X-BYTERANGE).
type ByteRange struct {
	// Length is the number of bytes in the range.
	Length int64

	// Offset is the byte offset of the range start within the resource.
	Offset int64
}

// SegmentRef is one entry of a segment manifest.
type SegmentRef struct {
	// Index is the position in the playlist, contiguous from 0.
	// It is also the on-disk naming order.
	Index int

	// URI is the absolute segment URL, resolved against the playlist URL.
	URI string

	// ByteRange is the optional partial-segment range.
	ByteRange *ByteRange
}

// Filename returns the deterministic on-disk name for the segment.
func (r SegmentRef) Filename() string {
	return fmt.Sprintf("segment_%05d.ts", r.Index)
}

// EncryptionMethodAES128 is the only supported encryption method.
const EncryptionMethodAES128 = "AES-128"

// Encryption describes the single stream-wide encryption key of a manifest.
type Encryption struct {
	// Method is the encryption method, always "AES-128".
	Method string

	// KeyURI is the absolute URL of the 16-byte key.
	KeyURI string

	// IV is the optional initialization vector from the key line.
	// When empty, the IV is derived from the segment index per RFC 8216.
	IV []byte
}

// Manifest is the parsed, resolved form of a playlist.
type Manifest struct {
	// Segments are the segment references in playback order.
	Segments []SegmentRef

	// Encryption is non-nil when the stream is AES-128 encrypted.
	Encryption *Encryption
}
