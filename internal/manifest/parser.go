package manifest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/grafov/m3u8"
)

// Parse failure taxonomy. Callers distinguish these with errors.Is.
var (
	// ErrEmpty means neither strategy found any segments.
	ErrEmpty = errors.New("playlist contains no segments")

	// ErrUnsupportedEncryption means the playlist declares an encryption
	// method other than AES-128.
	ErrUnsupportedEncryption = errors.New("unsupported encryption method")

	// ErrUnresolvableURI means a reference line cannot be resolved against
	// the playlist URL.
	ErrUnresolvableURI = errors.New("unresolvable URI")
)

// Key-line detection for the fallback strategy.
var (
	keyLinePattern = regexp.MustCompile(`#EXT-X-KEY:(.+)`)
	methodPattern  = regexp.MustCompile(`METHOD=([^,\s]+)`)
	keyURIPattern  = regexp.MustCompile(`URI="([^"]+)"`)
	ivPattern      = regexp.MustCompile(`IV=(0x[0-9A-Fa-f]+)`)
)

// Parse turns raw playlist text into an ordered segment manifest with all
// URIs resolved against baseURI.
//
// The structured strategy understands the playlist grammar; the line-scan
// fallback runs only when the structured strategy fails or yields zero
// segments, and handles playlists that are technically invalid but still
// list one URI per content line. Both strategies produce identical manifests
// for well-formed input.
func Parse(text, baseURI string) (*Manifest, error) {
	m, err := parseStructured(text, baseURI)
	if err == nil && len(m.Segments) > 0 {
		return m, nil
	}
	if errors.Is(err, ErrUnsupportedEncryption) {
		// Never silently degrade an encrypted stream to unencrypted output.
		return nil, err
	}

	m, err = parseFallback(text, baseURI)
	if err != nil {
		return nil, err
	}
	if len(m.Segments) == 0 {
		return nil, ErrEmpty
	}
	return m, nil
}

// parseStructured decodes the playlist grammar with the m3u8 library and
// resolves each segment URI with standard reference resolution.
func parseStructured(text, baseURI string) (*Manifest, error) {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(text), true)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("expected media playlist, got master playlist")
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("unexpected playlist type")
	}

	base, err := url.Parse(baseURI)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URI %q", ErrUnresolvableURI, baseURI)
	}

	var segments []SegmentRef
	var enc *Encryption
	for _, seg := range media.Segments {
		if seg == nil {
			break
		}

		if enc == nil && seg.Key != nil {
			enc, err = encryptionFromKey(seg.Key.Method, seg.Key.URI, seg.Key.IV, base)
			if err != nil {
				return nil, err
			}
		}

		ref, err := url.Parse(seg.URI)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %q", ErrUnresolvableURI, seg.URI)
		}

		sr := SegmentRef{
			Index: len(segments),
			URI:   base.ResolveReference(ref).String(),
		}
		if seg.Limit > 0 {
			sr.ByteRange = &ByteRange{Length: seg.Limit, Offset: seg.Offset}
		}
		segments = append(segments, sr)
	}

	if enc == nil && media.Key != nil {
		enc, err = encryptionFromKey(media.Key.Method, media.Key.URI, media.Key.IV, base)
		if err != nil {
			return nil, err
		}
	}

	return &Manifest{Segments: segments, Encryption: enc}, nil
}

// parseFallback scans the playlist line by line: every non-empty,
// non-comment line is a segment URI, key lines are matched by regexp, and
// URI resolution is implemented manually for the three reference forms.
func parseFallback(text, baseURI string) (*Manifest, error) {
	var segments []SegmentRef
	var enc *Encryption

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if enc != nil {
				continue
			}
			km := keyLinePattern.FindStringSubmatch(line)
			if km == nil {
				continue
			}
			var err error
			enc, err = encryptionFromKeyLine(km[1], baseURI)
			if err != nil {
				return nil, err
			}
			continue
		}

		uri, err := resolveManual(baseURI, line)
		if err != nil {
			return nil, err
		}
		segments = append(segments, SegmentRef{Index: len(segments), URI: uri})
	}

	return &Manifest{Segments: segments, Encryption: enc}, nil
}

// encryptionFromKey builds the descriptor from a structured key entry.
func encryptionFromKey(method, keyURI, iv string, base *url.URL) (*Encryption, error) {
	method = strings.Trim(strings.TrimSpace(method), `"`)
	if method == "" || strings.EqualFold(method, "NONE") {
		return nil, nil
	}
	if !strings.EqualFold(method, EncryptionMethodAES128) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncryption, method)
	}

	ref, err := url.Parse(keyURI)
	if err != nil {
		return nil, fmt.Errorf("%w: key %q", ErrUnresolvableURI, keyURI)
	}

	ivBytes, err := parseIV(iv)
	if err != nil {
		return nil, err
	}

	return &Encryption{
		Method: EncryptionMethodAES128,
		KeyURI: base.ResolveReference(ref).String(),
		IV:     ivBytes,
	}, nil
}

// encryptionFromKeyLine builds the descriptor from a raw #EXT-X-KEY line.
func encryptionFromKeyLine(attrs, baseURI string) (*Encryption, error) {
	mm := methodPattern.FindStringSubmatch(attrs)
	if mm == nil {
		return nil, nil
	}
	method := strings.Trim(mm[1], `"`)
	if strings.EqualFold(method, "NONE") {
		return nil, nil
	}
	if !strings.EqualFold(method, EncryptionMethodAES128) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncryption, method)
	}

	var keyURI string
	if um := keyURIPattern.FindStringSubmatch(attrs); um != nil {
		resolved, err := resolveManual(baseURI, um[1])
		if err != nil {
			return nil, err
		}
		keyURI = resolved
	}

	var iv []byte
	if im := ivPattern.FindStringSubmatch(attrs); im != nil {
		parsed, err := parseIV(im[1])
		if err != nil {
			return nil, err
		}
		iv = parsed
	}

	return &Encryption{Method: EncryptionMethodAES128, KeyURI: keyURI, IV: iv}, nil
}

// parseIV decodes a 0x-prefixed hex IV attribute.
func parseIV(iv string) ([]byte, error) {
	iv = strings.Trim(strings.TrimSpace(iv), `"`)
	if iv == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(iv, "0x"), "0X"))
	if err != nil {
		return nil, fmt.Errorf("parse key IV %q: %w", iv, err)
	}
	return b, nil
}

// resolveManual resolves a reference against baseURI without standard
// reference resolution. It handles the three forms that occur in playlists:
// absolute URLs, root-relative paths, and relative paths including "..".
func resolveManual(baseURI, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}

	base, err := url.Parse(baseURI)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("%w: %q against base %q", ErrUnresolvableURI, ref, baseURI)
	}

	refPath := ref
	query := ""
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		refPath, query = ref[:i], ref[i:]
	}

	var resolved string
	if strings.HasPrefix(refPath, "/") {
		resolved = path.Clean(refPath)
	} else {
		dir := path.Dir(base.Path)
		if dir == "." {
			dir = "/"
		}
		resolved = path.Join(dir, refPath)
	}

	return base.Scheme + "://" + base.Host + resolved + query, nil
}
