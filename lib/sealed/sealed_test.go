// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/bureau-foundation/vault/lib/secret"
)

// A low scrypt work factor keeps passphrase tests fast.
const testWorkFactor = 10

func buffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	b, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("secret.NewFromBytes: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestPassphraseRoundTrip(t *testing.T) {
	plaintext := []byte("master key material")
	sealed, err := SealWithPassphrase(plaintext, buffer(t, "correct horse"), testWorkFactor)
	if err != nil {
		t.Fatalf("SealWithPassphrase: %v", err)
	}
	if !strings.HasPrefix(string(sealed), "-----BEGIN AGE ENCRYPTED FILE-----") {
		t.Fatalf("sealed output is not armored: %q", sealed[:40])
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("sealed output contains the plaintext")
	}

	opened, err := OpenWithPassphrase(sealed, buffer(t, "correct horse"), testWorkFactor)
	if err != nil {
		t.Fatalf("OpenWithPassphrase: %v", err)
	}
	defer opened.Close()
	if !opened.Equal(plaintext) {
		t.Fatalf("opened = %q, want %q", opened.Bytes(), plaintext)
	}
}

func TestPassphraseWrong(t *testing.T) {
	sealed, err := SealWithPassphrase([]byte("x"), buffer(t, "right"), testWorkFactor)
	if err != nil {
		t.Fatalf("SealWithPassphrase: %v", err)
	}
	if _, err := OpenWithPassphrase(sealed, buffer(t, "wrong"), testWorkFactor); !errors.Is(err, ErrWrongKey) {
		t.Fatalf("OpenWithPassphrase(wrong) = %v, want ErrWrongKey", err)
	}
}

func TestPassphraseWorkFactorCeiling(t *testing.T) {
	sealed, err := SealWithPassphrase([]byte("x"), buffer(t, "p"), testWorkFactor+2)
	if err != nil {
		t.Fatalf("SealWithPassphrase: %v", err)
	}
	if _, err := OpenWithPassphrase(sealed, buffer(t, "p"), testWorkFactor); err == nil {
		t.Fatal("file demanding a higher work factor than allowed was opened")
	}
}

func TestRecipientRoundTrip(t *testing.T) {
	first, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer first.Close()
	second, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer second.Close()
	outsider, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer outsider.Close()

	if first.PublicKey == second.PublicKey {
		t.Fatal("two generated keypairs share a public key")
	}

	plaintext := []byte("sealed to two machines")
	sealed, err := SealToRecipients(plaintext, []string{first.PublicKey, second.PublicKey})
	if err != nil {
		t.Fatalf("SealToRecipients: %v", err)
	}
	for _, keypair := range []*Keypair{first, second} {
		opened, err := OpenWithIdentity(sealed, keypair.PrivateKey)
		if err != nil {
			t.Fatalf("OpenWithIdentity: %v", err)
		}
		if !opened.Equal(plaintext) {
			t.Errorf("opened %q", opened.Bytes())
		}
		opened.Close()
	}
	if _, err := OpenWithIdentity(sealed, outsider.PrivateKey); !errors.Is(err, ErrWrongKey) {
		t.Fatalf("OpenWithIdentity(outsider) = %v, want ErrWrongKey", err)
	}
}

func TestSealToRecipientsErrors(t *testing.T) {
	if _, err := SealToRecipients([]byte("x"), nil); err == nil {
		t.Error("SealToRecipients with no recipients succeeded")
	}
	if _, err := SealToRecipients([]byte("x"), []string{"age1notakey"}); err == nil {
		t.Error("SealToRecipients with an invalid key succeeded")
	}
}

func TestOpenCorrupted(t *testing.T) {
	sealed, err := SealWithPassphrase([]byte("payload"), buffer(t, "p"), testWorkFactor)
	if err != nil {
		t.Fatalf("SealWithPassphrase: %v", err)
	}
	truncated := sealed[:len(sealed)/2]
	if _, err := OpenWithPassphrase(truncated, buffer(t, "p"), testWorkFactor); err == nil {
		t.Fatal("truncated key file opened")
	}
}

func TestParseKeys(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Errorf("ParsePublicKey(valid): %v", err)
	}
	if err := ParsePrivateKey(keypair.PrivateKey); err != nil {
		t.Errorf("ParsePrivateKey(valid): %v", err)
	}
	if err := ParsePublicKey("age1invalid"); err == nil {
		t.Error("ParsePublicKey accepted garbage")
	}
	if err := ParsePrivateKey(buffer(t, "AGE-SECRET-KEY-1NOPE")); err == nil {
		t.Error("ParsePrivateKey accepted garbage")
	}
}
