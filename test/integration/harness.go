// Package integration provides end-to-end tests that run the full recovery
// flow against a local origin server.
package integration

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
)

// origin is a scripted HLS origin. Each path serves fixed bytes and can be
// told to fail a number of times before succeeding.
type origin struct {
	t        *testing.T
	mu       sync.Mutex
	files    map[string][]byte
	failures map[string]int
	hits     map[string]int
	server   *httptest.Server
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{
		t:        t,
		files:    make(map[string][]byte),
		failures: make(map[string]int),
		hits:     make(map[string]int),
	}
	o.server = httptest.NewServer(http.HandlerFunc(o.handle))
	t.Cleanup(o.server.Close)
	return o
}

// URL returns the absolute URL for a path on the origin.
func (o *origin) URL(path string) string {
	return o.server.URL + path
}

// Serve registers fixed content for a path.
func (o *origin) Serve(path string, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[path] = data
}

// FailNext makes the next n GET requests for a path return 502. HEAD
// probes are never failed.
func (o *origin) FailNext(path string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[path] = n
}

// Hits returns how many requests a path has received, any method.
func (o *origin) Hits(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *origin) handle(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.hits[r.URL.Path]++
	var remaining int
	if r.Method != http.MethodHead {
		remaining = o.failures[r.URL.Path]
		if remaining > 0 {
			o.failures[r.URL.Path] = remaining - 1
		}
	}
	data, ok := o.files[r.URL.Path]
	o.mu.Unlock()

	if remaining > 0 {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}

// mediaPlaylist builds a media playlist listing n relative segments.
func mediaPlaylist(n int) string {
	text := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:0\n"
	for i := 0; i < n; i++ {
		text += fmt.Sprintf("#EXTINF:4.000,\nseg%03d.ts\n", i)
	}
	return text + "#EXT-X-ENDLIST\n"
}

// encryptedPlaylist is mediaPlaylist plus an AES-128 key declaration.
func encryptedPlaylist(n int, keyURI string) string {
	text := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n"
	text += fmt.Sprintf("#EXT-X-KEY:METHOD=AES-128,URI=%q\n", keyURI)
	for i := 0; i < n; i++ {
		text += fmt.Sprintf("#EXTINF:4.000,\nseg%03d.ts\n", i)
	}
	return text + "#EXT-X-ENDLIST\n"
}

// encryptSegment AES-128-CBC encrypts plaintext with PKCS#7 padding and the
// big-endian segment index as IV, matching what the client derives.
func encryptSegment(t *testing.T, plain, key []byte, index int) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("test cipher: %v", err)
	}

	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := make([]byte, len(plain)+pad)
	copy(padded, plain)
	for i := len(plain); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	iv := make([]byte, aes.BlockSize)
	for j, shift := 15, 0; j >= 8; j, shift = j-1, shift+8 {
		iv[j] = byte(index >> shift)
	}

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func testLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Level: hclog.Off})
}
