package manifest

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

const wellFormedRelative = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXTINF:9.9,
seg000.ts
#EXTINF:10.0,
sub/seg001.ts
#EXTINF:10.1,
../seg002.ts
#EXT-X-ENDLIST
`

const wellFormedMixed = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXTINF:4.0,
https://cdn.example.com/seg000.ts
#EXTINF:4.0,
/root/seg001.ts
#EXTINF:4.0,
seg002.ts
#EXT-X-ENDLIST
`

const wellFormedEncrypted = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-KEY:METHOD=AES-128,URI="keys/video.key",IV=0x00000000000000000000000000000001
#EXTINF:6.0,
seg000.ts
#EXTINF:6.0,
seg001.ts
#EXT-X-ENDLIST
`

func TestParse_RelativeResolution(t *testing.T) {
	m, err := Parse(wellFormedRelative, "https://h/a/b/playlist.m3u8")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []string{
		"https://h/a/b/seg000.ts",
		"https://h/a/b/sub/seg001.ts",
		"https://h/a/seg002.ts",
	}
	if len(m.Segments) != len(want) {
		t.Fatalf("expected %d segments, got %d", len(want), len(m.Segments))
	}
	for i, uri := range want {
		if m.Segments[i].URI != uri {
			t.Errorf("segment %d: expected %s, got %s", i, uri, m.Segments[i].URI)
		}
		if m.Segments[i].Index != i {
			t.Errorf("segment %d: expected contiguous index, got %d", i, m.Segments[i].Index)
		}
	}
	if m.Encryption != nil {
		t.Error("expected no encryption descriptor")
	}
}

func TestParse_StrategyEquivalence(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		baseURI string
	}{
		{"relative", wellFormedRelative, "https://h/a/b/playlist.m3u8"},
		{"mixed forms", wellFormedMixed, "https://h/a/b/playlist.m3u8"},
		{"encrypted", wellFormedEncrypted, "https://h/a/b/playlist.m3u8"},
		{"base at root", wellFormedRelative, "https://h/playlist.m3u8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			structured, err := parseStructured(tt.text, tt.baseURI)
			if err != nil {
				t.Fatalf("structured parse failed: %v", err)
			}
			fallback, err := parseFallback(tt.text, tt.baseURI)
			if err != nil {
				t.Fatalf("fallback parse failed: %v", err)
			}
			if !reflect.DeepEqual(structured, fallback) {
				t.Errorf("strategies disagree:\nstructured: %+v\nfallback:   %+v", structured, fallback)
			}
		})
	}
}

func TestParse_FallbackOnInvalidPlaylist(t *testing.T) {
	// No #EXTM3U header, no tags: technically invalid but one URI per line.
	text := "seg000.ts\nseg001.ts\n\nhttps://cdn.example.com/seg002.ts\n"

	m, err := Parse(text, "https://h/v/playlist.m3u8")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(m.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(m.Segments))
	}
	if m.Segments[0].URI != "https://h/v/seg000.ts" {
		t.Errorf("unexpected first URI %s", m.Segments[0].URI)
	}
	if m.Segments[2].URI != "https://cdn.example.com/seg002.ts" {
		t.Errorf("absolute URI should pass through, got %s", m.Segments[2].URI)
	}
}

func TestParse_Encryption(t *testing.T) {
	m, err := Parse(wellFormedEncrypted, "https://h/a/b/playlist.m3u8")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Encryption == nil {
		t.Fatal("expected encryption descriptor")
	}
	if m.Encryption.Method != EncryptionMethodAES128 {
		t.Errorf("expected AES-128, got %s", m.Encryption.Method)
	}
	if m.Encryption.KeyURI != "https://h/a/b/keys/video.key" {
		t.Errorf("unexpected key URI %s", m.Encryption.KeyURI)
	}
	wantIV := append(bytes.Repeat([]byte{0}, 15), 1)
	if !bytes.Equal(m.Encryption.IV, wantIV) {
		t.Errorf("unexpected IV %x", m.Encryption.IV)
	}
}

func TestParse_UnsupportedEncryption(t *testing.T) {
	text := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-KEY:METHOD=SAMPLE-AES,URI="keys/video.key"
#EXTINF:6.0,
seg000.ts
#EXT-X-ENDLIST
`
	_, err := Parse(text, "https://h/playlist.m3u8")
	if !errors.Is(err, ErrUnsupportedEncryption) {
		t.Fatalf("expected ErrUnsupportedEncryption, got %v", err)
	}
}

func TestParse_Empty(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"blank", "\n\n"},
		{"comments only", "#EXTM3U\n#EXT-X-ENDLIST\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text, "https://h/playlist.m3u8")
			if !errors.Is(err, ErrEmpty) {
				t.Fatalf("expected ErrEmpty, got %v", err)
			}
		})
	}
}

func TestResolveManual(t *testing.T) {
	tests := []struct {
		name        string
		baseURI     string
		ref         string
		expected    string
		shouldError bool
	}{
		{
			name:     "relative path",
			baseURI:  "https://h/a/b/playlist.m3u8",
			ref:      "seg.ts",
			expected: "https://h/a/b/seg.ts",
		},
		{
			name:     "parent directory",
			baseURI:  "https://h/a/b/playlist.m3u8",
			ref:      "../seg002.ts",
			expected: "https://h/a/seg002.ts",
		},
		{
			name:     "root relative",
			baseURI:  "https://h/a/b/playlist.m3u8",
			ref:      "/c/seg.ts",
			expected: "https://h/c/seg.ts",
		},
		{
			name:     "absolute",
			baseURI:  "https://h/a/b/playlist.m3u8",
			ref:      "https://cdn/seg.ts",
			expected: "https://cdn/seg.ts",
		},
		{
			name:     "query preserved",
			baseURI:  "https://h/a/playlist.m3u8",
			ref:      "seg.ts?token=abc",
			expected: "https://h/a/seg.ts?token=abc",
		},
		{
			name:        "base without host",
			baseURI:     "not-a-url",
			ref:         "seg.ts",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := resolveManual(tt.baseURI, tt.ref)
			if tt.shouldError {
				if !errors.Is(err, ErrUnresolvableURI) {
					t.Fatalf("expected ErrUnresolvableURI, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestSegmentRef_Filename(t *testing.T) {
	r := SegmentRef{Index: 7}
	if r.Filename() != "segment_00007.ts" {
		t.Errorf("unexpected filename %s", r.Filename())
	}
}
