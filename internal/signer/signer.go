package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/shiftcal/ota-server/internal/config"
)

var (
	// ErrMissingPrivateKey is a server misconfiguration: signing was
	// requested but no key is available.
	ErrMissingPrivateKey = errors.New("signing requested but no private key is configured")

	// Negotiation mismatches; the client must retry with corrected
	// signature parameters.
	ErrKeyIDMismatch     = errors.New("requested signing key id does not match configuration")
	ErrAlgorithmMismatch = errors.New("requested signing algorithm does not match configuration")
)

// Signer holds the configured code-signing identity. The private key is
// optional; a Signer without one refuses signing requests with
// ErrMissingPrivateKey.
type Signer struct {
	key   *rsa.PrivateKey
	keyID string
	alg   string
}

func New(conf config.SigningConfig) (*Signer, error) {
	s := &Signer{
		keyID: conf.KeyID,
		alg:   conf.Algorithm,
	}
	if s.keyID == "" {
		s.keyID = config.DefaultSigningKeyID
	}
	if s.alg == "" {
		s.alg = config.DefaultSigningAlgorithm
	}

	if conf.PrivateKeyPEM == "" {
		return s, nil
	}

	key, err := parsePrivateKey(conf.PrivateKeyPEM)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to load signing key")
	}
	s.key = key
	return s, nil
}

func parsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	// Config values commonly carry the PEM with literal \n escapes.
	raw = strings.ReplaceAll(raw, `\n`, "\n")

	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "unparsable private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("unsupported private key type %T", parsed)
	}
	return key, nil
}

func (s *Signer) KeyID() string {
	return s.keyID
}

func (s *Signer) Algorithm() string {
	return s.alg
}

// MaybeSign signs the manifest body exactly as transmitted and returns the
// structured signature header value. It is a no-op unless shouldSign is set.
// Signing must be the last step before building the response; any
// re-serialization afterwards invalidates the signature.
func (s *Signer) MaybeSign(body []byte, shouldSign bool, expectedKeyID, expectedAlg string) (string, error) {
	if !shouldSign {
		return "", nil
	}
	if s.key == nil {
		return "", ErrMissingPrivateKey
	}
	if expectedKeyID != "" && expectedKeyID != s.keyID {
		return "", ErrKeyIDMismatch
	}
	if expectedAlg != "" && expectedAlg != s.alg {
		return "", ErrAlgorithmMismatch
	}

	digest := sha256.Sum256(body)
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", errors.Wrap(err, "failed to sign manifest body")
	}

	encoded := base64.StdEncoding.EncodeToString(signature)
	return fmt.Sprintf(`sig=:%s:, keyid="%s", alg="%s"`, encoded, s.keyID, s.alg), nil
}
