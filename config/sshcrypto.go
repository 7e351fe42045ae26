package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// sshKeyNames is the probe order for FindSSHKeys. A modelmux-specific
// key wins over the conventional names so users can dedicate a key to
// credential encryption.
var sshKeyNames = []string{
	"modelmux_ed25519",
	"id_ed25519",
	"id_rsa",
	"id_ecdsa",
	"id_dsa",
}

func readSSHKey(keyPath string) ([]byte, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}
	return data, nil
}

// LoadSSHPrivateKey parses an unencrypted SSH private key.
func LoadSSHPrivateKey(keyPath string) (ssh.Signer, error) {
	data, err := readSSHKey(keyPath)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}
	return signer, nil
}

// LoadSSHPrivateKeyWithPassphrase parses a passphrase-protected SSH
// private key.
func LoadSSHPrivateKeyWithPassphrase(keyPath, passphrase string) (ssh.Signer, error) {
	data, err := readSSHKey(keyPath)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key (wrong passphrase?): %w", err)
	}
	return signer, nil
}

// IsSSHKeyEncrypted reports whether the key at keyPath needs a
// passphrase, without attempting to decrypt it.
func IsSSHKeyEncrypted(keyPath string) (bool, error) {
	data, err := readSSHKey(keyPath)
	if err != nil {
		return false, err
	}
	if _, err := ssh.ParsePrivateKey(data); err != nil {
		if strings.Contains(err.Error(), "encrypted") || strings.Contains(err.Error(), "passphrase") {
			return true, nil
		}
		return false, fmt.Errorf("invalid SSH key: %w", err)
	}
	return false, nil
}

// FindSSHKeys returns the usable private keys under ~/.ssh in probe
// order. A missing .ssh directory yields an empty list, not an error.
func FindSSHKeys() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	sshDir := filepath.Join(home, ".ssh")
	if _, err := os.Stat(sshDir); os.IsNotExist(err) {
		return []string{}, nil
	}

	var found []string
	for _, name := range sshKeyNames {
		path := filepath.Join(sshDir, name)
		if looksLikePrivateKey(path) {
			found = append(found, path)
		}
	}
	return found, nil
}

// looksLikePrivateKey is a marker check, not a full parse. It skips
// public keys and stray files sharing a conventional key name.
func looksLikePrivateKey(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	s := string(data)
	return strings.Contains(s, "BEGIN") && strings.Contains(s, "PRIVATE KEY")
}
