package podfaker

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPublicKeyFile(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "bot.pub")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadPublicKeyFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(&key.PublicKey) {
		t.Error("loaded key does not match")
	}
}

func TestLoadPublicKeyFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pub")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPublicKeyFile(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := LoadPublicKeyFile(filepath.Join(t.TempDir(), "missing.pub")); err == nil {
		t.Fatal("expected read error")
	}
}
