package auth

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// LoadPrivateKey returns the PEM bytes of the bot's RSA key, taken from
// content when set and from path otherwise.
func LoadPrivateKey(path, content string) ([]byte, error) {
	if content != "" {
		return []byte(content), nil
	}
	if path == "" {
		return nil, errors.New("private key: neither path nor content configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return data, nil
}

// LoadClientCertificate loads the bot certificate used for the mutual TLS
// flow. Files ending in .p12 or .pfx are decoded as PKCS#12 with
// password; anything else must hold both the PEM certificate and its key.
func LoadClientCertificate(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("reading certificate: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		key, cert, err := pkcs12.Decode(data, password)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("decoding pkcs12 certificate: %w", err)
		}
		return tls.Certificate{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  key,
			Leaf:        cert,
		}, nil
	default:
		cert, err := tls.X509KeyPair(data, data)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("parsing PEM certificate: %w", err)
		}
		return cert, nil
	}
}
