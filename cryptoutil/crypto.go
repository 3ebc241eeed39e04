// Package cryptoutil implements the crypto primitives spec.md §4.5/§6
// normatively requires for talking to the DMS: HMAC-SHA1 request
// signing, AES-128-CBC/PKCS#7 response-envelope decryption, Base64,
// and MD5 for artifact checksums. Every one of these is a Go standard
// library primitive (crypto/hmac, crypto/sha1, crypto/aes,
// crypto/cipher, crypto/md5, encoding/base64); no example repository
// in this codebase's corpus reaches for a third-party crypto library
// for operations the standard library already implements correctly,
// so none is introduced here (see DESIGN.md).
package cryptoutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// SignTimestamp computes Base64(HMAC-SHA1(productKey, asciiUnixTimestamp)),
// the exact signature spec.md §4.5 requires on every DMS REST request.
// It returns the signature alongside the exact ASCII timestamp string
// that was signed, since the header carries that same string.
func SignTimestamp(productKey string, ts time.Time) (signature string, tsString string) {
	tsString = strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha1.New, []byte(productKey))
	mac.Write([]byte(tsString))
	sum := mac.Sum(nil)
	return base64.StdEncoding.EncodeToString(sum), tsString
}

// VerifySignature recomputes the signature for a given timestamp
// string and product key and compares in constant time. It exists
// mainly so tests can assert signature determinism (spec.md §8)
// without reaching back into SignTimestamp's internals.
func VerifySignature(productKey, tsString, signature string) bool {
	mac := hmac.New(sha1.New, []byte(productKey))
	mac.Write([]byte(tsString))
	want := mac.Sum(nil)
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// Base64Encode / Base64Decode wrap the standard Base64 alphabet with
// "=" padding, no line breaks, as spec.md §6 requires.
func Base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func Base64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// MD5Hex returns the lowercase hex MD5 digest of b, used for the
// UploadLogs artifact checksum (spec.md §4.4).
func MD5Hex(b []byte) string {
	sum := md5.Sum(b)
	return fmt.Sprintf("%x", sum)
}

// AESCBCEncrypt PKCS#7-pads plaintext and encrypts it with AES-128-CBC
// using the given 16-byte key and IV. Present mainly for tests and for
// any future build that needs to round-trip the envelope format.
func AESCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// AESCBCDecrypt decrypts an AES-128-CBC ciphertext and strips PKCS#7
// padding, returning the plaintext. This is the core of the response
// envelope decode in spec.md §4.5.
func AESCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("cryptoutil: ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("cryptoutil: cannot unpad empty data")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > n {
		return nil, fmt.Errorf("cryptoutil: invalid PKCS#7 padding")
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("cryptoutil: invalid PKCS#7 padding")
		}
	}
	return data[:n-padLen], nil
}
