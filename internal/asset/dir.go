// Package asset manages the persisted on-disk layout of a single HLS asset.
//
// One directory per asset identifier holds the raw playlist, the encryption
// descriptor and key when the stream is encrypted, the expected content
// length index, and one file per segment. All writes go through a temp file
// plus atomic rename so a failed attempt can never corrupt a good file.
package asset

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"

	"hlsrescue/internal/manifest"
)

// Side files kept next to the segment files.
const (
	PlaylistFile       = "playlist.txt"
	EncryptionInfoFile = "encryption_info.json"
	EncryptionKeyFile  = "encryption.key"
	ContentLengthsFile = "content_lengths.json"
)

// Characters stripped from identifiers before they become directory names.
const invalidNameChars = `<>:"/\|?*`

// EncryptionInfo is the serialized form of a manifest encryption descriptor.
type EncryptionInfo struct {
	IsEncrypted bool   `json:"is_encrypted"`
	Method      string `json:"method,omitempty"`
	KeyURI      string `json:"key_uri,omitempty"`
	KeyFile     string `json:"key_file"`
	IV          string `json:"iv,omitempty"`
}

// Descriptor converts the serialized form back to a manifest descriptor.
// Returns nil for unencrypted assets.
func (e EncryptionInfo) Descriptor() (*manifest.Encryption, error) {
	if !e.IsEncrypted {
		return nil, nil
	}
	enc := &manifest.Encryption{Method: e.Method, KeyURI: e.KeyURI}
	if e.IV != "" {
		var err error
		enc.IV, err = hexDecodeIV(e.IV)
		if err != nil {
			return nil, err
		}
	}
	return enc, nil
}

// InfoFor builds the serialized form for a manifest descriptor.
func InfoFor(enc *manifest.Encryption) EncryptionInfo {
	info := EncryptionInfo{KeyFile: EncryptionKeyFile}
	if enc == nil {
		return info
	}
	info.IsEncrypted = true
	info.Method = enc.Method
	info.KeyURI = enc.KeyURI
	if len(enc.IV) > 0 {
		info.IV = "0x" + fmt.Sprintf("%x", enc.IV)
	}
	return info
}

// Dir is the directory of a single asset under the configured root.
type Dir struct {
	path string
}

// New returns the asset directory for an identifier under root. The
// identifier is sanitized the same way for every caller, so the mapping is
// deterministic.
func New(root, identifier string) Dir {
	return Dir{path: filepath.Join(root, SanitizeIdentifier(identifier))}
}

// SanitizeIdentifier replaces characters that cannot appear in a directory
// name with underscores.
func SanitizeIdentifier(identifier string) string {
	name := strings.TrimSpace(identifier)
	for _, c := range invalidNameChars {
		name = strings.ReplaceAll(name, string(c), "_")
	}
	return name
}

// Path returns the asset directory path.
func (d Dir) Path() string { return d.path }

// Create makes the asset directory if it does not exist yet.
func (d Dir) Create() error {
	return os.MkdirAll(d.path, 0o755)
}

// SegmentPath returns the deterministic path for a segment index.
func (d Dir) SegmentPath(index int) string {
	return filepath.Join(d.path, manifest.SegmentRef{Index: index}.Filename())
}

// WritePlaylist persists the raw playlist text exactly as fetched.
func (d Dir) WritePlaylist(text string) error {
	return writeAtomic(filepath.Join(d.path, PlaylistFile), []byte(text))
}

// ReadPlaylist returns the persisted raw playlist text.
func (d Dir) ReadPlaylist() (string, error) {
	b, err := os.ReadFile(filepath.Join(d.path, PlaylistFile))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteEncryptionInfo persists the encryption descriptor side file. It is
// written for unencrypted assets too, with is_encrypted false, so a later
// run can tell "checked and unencrypted" from "never checked".
func (d Dir) WriteEncryptionInfo(info EncryptionInfo) error {
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal encryption info: %w", err)
	}
	return writeAtomic(filepath.Join(d.path, EncryptionInfoFile), b)
}

// ReadEncryptionInfo loads the encryption descriptor side file.
func (d Dir) ReadEncryptionInfo() (EncryptionInfo, error) {
	var info EncryptionInfo
	b, err := os.ReadFile(filepath.Join(d.path, EncryptionInfoFile))
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(b, &info); err != nil {
		return info, fmt.Errorf("parse %s: %w", EncryptionInfoFile, err)
	}
	return info, nil
}

// WriteKey persists the raw encryption key bytes.
func (d Dir) WriteKey(key []byte) error {
	return writeAtomic(filepath.Join(d.path, EncryptionKeyFile), key)
}

// ReadKey returns the persisted encryption key bytes.
func (d Dir) ReadKey() ([]byte, error) {
	return os.ReadFile(filepath.Join(d.path, EncryptionKeyFile))
}

// ReadContentLengths loads the expected byte size per segment index.
// A missing or unreadable index yields an empty map; lengths are a
// best-effort expectation, not a hard requirement.
func (d Dir) ReadContentLengths() map[int]int64 {
	lengths := make(map[int]int64)
	b, err := os.ReadFile(filepath.Join(d.path, ContentLengthsFile))
	if err != nil {
		return lengths
	}
	var raw map[string]int64
	if err := json.Unmarshal(b, &raw); err != nil {
		return lengths
	}
	for k, v := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		lengths[idx] = v
	}
	return lengths
}

// WriteContentLengths persists the expected byte size per segment index.
func (d Dir) WriteContentLengths(lengths map[int]int64) error {
	raw := make(map[string]int64, len(lengths))
	for idx, v := range lengths {
		raw[strconv.Itoa(idx)] = v
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal content lengths: %w", err)
	}
	return writeAtomic(filepath.Join(d.path, ContentLengthsFile), b)
}

// MergeContentLengths folds updates into the persisted index.
func (d Dir) MergeContentLengths(updates map[int]int64) error {
	if len(updates) == 0 {
		return nil
	}
	lengths := d.ReadContentLengths()
	for idx, v := range updates {
		lengths[idx] = v
	}
	return d.WriteContentLengths(lengths)
}

// EnsureContentLengths creates an empty index file if none exists, so later
// passes stop reporting it as missing metadata.
func (d Dir) EnsureContentLengths() error {
	_, err := os.Stat(filepath.Join(d.path, ContentLengthsFile))
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return d.WriteContentLengths(nil)
}

// MissingMetadata lists the metadata side files that a recovery pass still
// needs to fill in. The key file is only required when the encryption info
// says the stream is encrypted.
func (d Dir) MissingMetadata() []string {
	var missing []string
	for _, name := range []string{ContentLengthsFile, EncryptionInfoFile, PlaylistFile} {
		if _, err := os.Stat(filepath.Join(d.path, name)); err != nil {
			missing = append(missing, name)
		}
	}

	info, err := d.ReadEncryptionInfo()
	if err == nil && info.IsEncrypted && info.KeyURI != "" {
		if _, err := os.Stat(filepath.Join(d.path, EncryptionKeyFile)); err != nil {
			missing = append(missing, EncryptionKeyFile)
		}
	}
	return missing
}

// hexDecodeIV decodes the 0x-prefixed IV stored in encryption_info.json.
func hexDecodeIV(iv string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(iv, "0x"), "0X")
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse stored IV %q: %w", iv, err)
	}
	return b, nil
}

// writeAtomic writes data through a temp file and atomic rename.
func writeAtomic(path string, data []byte) error {
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("atomic write %s: %w", filepath.Base(path), err)
	}
	return nil
}
