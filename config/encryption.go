package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// Encryptor seals modelmux data at rest with AES-256-GCM. The AES key is
// derived from a signature made by the user's SSH key, so the key that
// already lives in ~/.ssh doubles as the encryption secret and nothing
// new has to be provisioned.
type Encryptor struct {
	sshKeyPath string
	passphrase string // passphrase for the SSH key itself, when encrypted
	aesKey     []byte
}

func NewEncryptor(sshKeyPath string) *Encryptor {
	return &Encryptor{sshKeyPath: sshKeyPath}
}

// SetPassphrase supplies the passphrase for an encrypted SSH key.
// Takes effect on the next Initialize.
func (e *Encryptor) SetPassphrase(passphrase string) {
	e.passphrase = passphrase
}

// Initialize loads the SSH key and derives the AES key. Encrypt and
// Decrypt fail until it has succeeded.
func (e *Encryptor) Initialize() error {
	encrypted, err := IsSSHKeyEncrypted(e.sshKeyPath)
	if err != nil {
		return fmt.Errorf("failed to check SSH key: %w", err)
	}
	if Debug && DebugLog != nil {
		DebugLog.Printf("[Encryptor] Initialize: key=%s encrypted=%v", e.sshKeyPath, encrypted)
	}
	if encrypted && e.passphrase == "" {
		return fmt.Errorf("SSH key is encrypted - passphrase required (set MODELMUX_SSH_PASSPHRASE)")
	}

	var signer ssh.Signer
	if encrypted {
		signer, err = LoadSSHPrivateKeyWithPassphrase(e.sshKeyPath, e.passphrase)
	} else {
		signer, err = LoadSSHPrivateKey(e.sshKeyPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load SSH key: %w", err)
	}

	aesKey, err := DeriveAESKeyFromSSH(signer)
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}
	e.aesKey = aesKey
	return nil
}

func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if e.aesKey == nil {
		return nil, fmt.Errorf("encryptor not initialized")
	}
	return encryptAESGCM(plaintext, e.aesKey)
}

func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if e.aesKey == nil {
		return nil, fmt.Errorf("encryptor not initialized")
	}
	return decryptAESGCM(ciphertext, e.aesKey)
}

// encryptAESGCM produces [12-byte nonce][ciphertext+tag].
func encryptAESGCM(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptAESGCM opens data produced by encryptAESGCM.
func decryptAESGCM(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// DeriveAESKeyFromSSH hashes a signature over a fixed message into a
// 32-byte AES-256 key. The same SSH key must always derive the same AES
// key, which holds for deterministic signature schemes such as ed25519.
func DeriveAESKeyFromSSH(signer ssh.Signer) ([]byte, error) {
	message := []byte("modelmux-encryption-key-derivation-v1")
	signature, err := signer.Sign(rand.Reader, message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	hash := sha256.Sum256(signature.Blob)
	return hash[:], nil
}
