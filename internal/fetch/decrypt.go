package fetch

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"hlsrescue/internal/manifest"
)

// decryptAES128 decrypts an AES-128-CBC segment payload and strips the
// PKCS#7 padding, returning the plaintext media data.
func decryptAES128(data, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(data))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("IV length %d, expected %d", len(iv), aes.BlockSize)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(plain) {
		return nil, fmt.Errorf("invalid padding byte %d", pad)
	}
	for _, b := range plain[len(plain)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("corrupt PKCS#7 padding")
		}
	}
	return plain[:len(plain)-pad], nil
}

// segmentIV returns the IV for a segment: the descriptor IV when the key
// line carried one, otherwise the big-endian segment index per RFC 8216.
func segmentIV(enc *manifest.Encryption, index int) []byte {
	iv := make([]byte, aes.BlockSize)
	if len(enc.IV) > 0 && len(enc.IV) <= aes.BlockSize {
		copy(iv[aes.BlockSize-len(enc.IV):], enc.IV)
		return iv
	}
	binary.BigEndian.PutUint64(iv[8:], uint64(index))
	return iv
}
