// Package keygen generates ephemeral RSA key pairs for SSH authentication.
//
// Keys are produced entirely in memory and are never written to disk. The
// public key is encoded in the form the Compute Engine metadata server and
// OS Login expect: "<algorithm> <base64-encoded-key> <login-user>".
package keygen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// MinBits is the smallest accepted RSA modulus size.
const MinBits = 2048

// KeyPair holds one ephemeral key pair. It is scoped to a single
// connection attempt and must be dropped when the attempt concludes.
type KeyPair struct {
	// PrivateKeyPEM is the RSA private key in PEM-encoded PKCS#1 format,
	// held in memory only.
	PrivateKeyPEM []byte
	// PublicKey is the provider encoding: "ssh-rsa <base64> <user>".
	PublicKey string
	// User is the login user the key was generated for.
	User string
	// CreatedAt records when the pair was generated.
	CreatedAt time.Time
}

// Generate creates a new RSA key pair for the given login user.
// Bit sizes below MinBits are rejected.
func Generate(user string, bits int) (*KeyPair, error) {
	if bits < MinBits {
		return nil, fmt.Errorf("rsa key size %d is below the minimum of %d bits", bits, MinBits)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA private key: %w", err)
	}

	if err := privateKey.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate RSA private key: %w", err)
	}

	privDER := x509.MarshalPKCS1PrivateKey(privateKey)
	privBlock := pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: privDER,
	}
	privateKeyPEM := pem.EncodeToMemory(&privBlock)

	publicRsaKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	// MarshalAuthorizedKey appends a newline; the metadata encoding puts
	// the login user where the comment would go.
	encoded := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(publicRsaKey)))

	return &KeyPair{
		PrivateKeyPEM: privateKeyPEM,
		PublicKey:     encoded + " " + user,
		User:          user,
		CreatedAt:     time.Now(),
	}, nil
}

// Signer parses the private key into an ssh.Signer for the handshake.
func (k *KeyPair) Signer() (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(k.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}
