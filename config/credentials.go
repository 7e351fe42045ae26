package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SecurityMethod selects how credentials are stored on disk.
type SecurityMethod string

const (
	SecurityPlainText SecurityMethod = "plaintext"
	SecuritySSHKey    SecurityMethod = "ssh_key"
)

// CredentialOpenAICompat is the store key for the OpenAI-compatible
// backend's API key.
const CredentialOpenAICompat = "openai_compat_api_key"

func mcpCredentialKey(server, key string) string {
	return fmt.Sprintf("mcp_%s_%s", server, key)
}

// CredentialStore holds API keys and MCP server secrets. Depending on the
// security method it persists them as plain TOML or AES-GCM encrypted
// with a key derived from the user's SSH key.
type CredentialStore struct {
	method     SecurityMethod
	sshKeyPath string
	passphrase string
	secrets    map[string]string
	enc        *Encryptor
}

func NewCredentialStore(method SecurityMethod, sshKeyPath string) *CredentialStore {
	return &CredentialStore{
		method:     method,
		sshKeyPath: sshKeyPath,
		secrets:    make(map[string]string),
	}
}

// SetPassphrase supplies the SSH key passphrase for the ssh_key method.
func (c *CredentialStore) SetPassphrase(passphrase string) {
	c.passphrase = passphrase
	if c.enc != nil {
		c.enc.SetPassphrase(passphrase)
	}
}

// GetMethod returns the configured storage method.
func (c *CredentialStore) GetMethod() SecurityMethod {
	return c.method
}

// Get returns the secret stored under key, or "" when absent.
func (c *CredentialStore) Get(key string) string {
	return c.secrets[key]
}

// Set stores a secret under key. Call Save to persist it.
func (c *CredentialStore) Set(key, secret string) error {
	c.secrets[key] = secret
	return nil
}

// Delete removes the secret stored under key.
func (c *CredentialStore) Delete(key string) error {
	delete(c.secrets, key)
	return nil
}

// GetMCP returns a secret for an MCP server. Secrets are keyed
// mcp_<server>_<key>.
func (c *CredentialStore) GetMCP(server, key string) string {
	return c.secrets[mcpCredentialKey(server, key)]
}

// SetMCP stores a secret for an MCP server.
func (c *CredentialStore) SetMCP(server, key, value string) error {
	c.secrets[mcpCredentialKey(server, key)] = value
	return nil
}

// Load reads the credential file under dataDir. A missing file leaves the
// store empty and is not an error.
func (c *CredentialStore) Load(dataDir string) error {
	switch c.method {
	case SecurityPlainText:
		return c.loadPlain(dataDir)
	case SecuritySSHKey:
		return c.loadEncrypted(dataDir)
	default:
		return fmt.Errorf("unknown security method: %s", c.method)
	}
}

// Save writes the credential file under dataDir with 0600 permissions.
func (c *CredentialStore) Save(dataDir string) error {
	switch c.method {
	case SecurityPlainText:
		return c.savePlain(dataDir)
	case SecuritySSHKey:
		return c.saveEncrypted(dataDir)
	default:
		return fmt.Errorf("unknown security method: %s", c.method)
	}
}

func (c *CredentialStore) filePath(dataDir string) string {
	if c.method == SecuritySSHKey {
		return filepath.Join(dataDir, "credentials.enc")
	}
	return filepath.Join(dataDir, "credentials.toml")
}

// credentialFile is the on-disk TOML layout for plain text storage.
type credentialFile struct {
	Credentials map[string]string `toml:"credentials"`
}

func (c *CredentialStore) loadPlain(dataDir string) error {
	path := c.filePath(dataDir)
	if !FileExists(path) {
		c.secrets = make(map[string]string)
		return nil
	}
	var cf credentialFile
	if err := readTOML(path, &cf); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if cf.Credentials == nil {
		cf.Credentials = make(map[string]string)
	}
	c.secrets = cf.Credentials
	return nil
}

func (c *CredentialStore) savePlain(dataDir string) error {
	if err := writeTOML(c.filePath(dataDir), credentialFile{Credentials: c.secrets}); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

func (c *CredentialStore) loadEncrypted(dataDir string) error {
	path := c.filePath(dataDir)
	if !FileExists(path) {
		c.secrets = make(map[string]string)
		return nil
	}
	if err := c.ensureEncryptor(); err != nil {
		return err
	}
	sealed, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read encrypted credentials: %w", err)
	}
	plain, err := c.enc.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("failed to decrypt credentials: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(plain, &secrets); err != nil {
		return fmt.Errorf("failed to parse decrypted credentials: %w", err)
	}
	c.secrets = secrets
	return nil
}

func (c *CredentialStore) saveEncrypted(dataDir string) error {
	if err := c.ensureEncryptor(); err != nil {
		return err
	}
	plain, err := json.Marshal(c.secrets)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}
	sealed, err := c.enc.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	if err := os.WriteFile(c.filePath(dataDir), sealed, 0600); err != nil {
		return fmt.Errorf("failed to write encrypted credentials: %w", err)
	}
	return nil
}

// ensureEncryptor sets up the encryptor on first use. A store that failed
// to initialize retries on the next call, so a passphrase supplied after
// the first attempt still takes effect.
func (c *CredentialStore) ensureEncryptor() error {
	if c.enc != nil && c.passphrase == "" {
		return nil
	}
	enc := NewEncryptor(c.sshKeyPath)
	enc.SetPassphrase(c.passphrase)
	if err := enc.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}
	c.enc = enc
	return nil
}
