package encryption

import (
	"bytes"
	"testing"

	"lightmon/internal/config"
)

func TestTestEncryptor_EncryptDecrypt(t *testing.T) {
	t.Parallel()

	e := NewTestEncryptor()
	if err := e.Setup("any"); err != nil || !e.setupCalled {
		t.Fatalf("Setup() error = %v, called = %v", err, e.setupCalled)
	}

	input := []byte("artifact bytes")
	var encrypted bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(input), &encrypted); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !bytes.HasPrefix(encrypted.Bytes(), testHeader) {
		t.Error("encrypted output lacks test header")
	}

	ctx, err := e.Unlock("any")
	if err != nil {
		t.Fatal(err)
	}
	var decrypted bytes.Buffer
	if err := ctx.Decrypt(&encrypted, &decrypted); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted.Bytes(), input) {
		t.Errorf("Decrypt() = %q, want %q", decrypted.Bytes(), input)
	}
}

func TestTestEncryptor_DecryptRejectsPlaintext(t *testing.T) {
	t.Parallel()

	ctx, _ := NewTestEncryptor().Unlock("")
	var out bytes.Buffer
	if err := ctx.Decrypt(bytes.NewReader([]byte("not encrypted at all")), &out); err == nil {
		t.Error("Decrypt() of plaintext should fail")
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		got, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: "none"})
		if err != nil || got != nil {
			t.Errorf("got %v, %v; want nil, nil", got, err)
		}
	})

	t.Run("age", func(t *testing.T) {
		got, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: "age", PublicKeyPath: "/k.pub", PrivateKeyPath: "/k.key"})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := got.(*AgeEncryptor); !ok {
			t.Errorf("got %T, want *AgeEncryptor", got)
		}
	})

	t.Run("age without keys", func(t *testing.T) {
		if _, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: "age"}); err == nil {
			t.Error("expected error for missing key paths")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: "rot13"}); err == nil {
			t.Error("expected error for unknown type")
		}
	})
}
