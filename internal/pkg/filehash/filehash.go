package filehash

import (
	"encoding/base64"
	"io"
	"os"

	"github.com/minio/sha256-simd"

	"github.com/shiftcal/ota-server/internal/pkg/bufpool"
)

// Sum returns the unpadded base64url SHA-256 of data, the hash format
// recorded in manifests and used for content-addressed filenames.
func Sum(data []byte) string {
	digest := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// Calculate streams a file through SHA-256 and returns the base64url digest.
func Calculate(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	buf := bufpool.Get()
	defer bufpool.Put(buf)
	if _, err := io.CopyBuffer(hasher, file, *buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(hasher.Sum(nil)), nil
}
