package session

import (
	"fmt"

	"github.com/99designs/keyring"
)

const keyringService = "orderfeed"

// APITokenKey is the keyring entry holding the backend API token.
const APITokenKey = "api-token"

// Variables so tests can pin the file backend to a temporary directory.
var (
	keyringBackends = []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	keyringFileDir = "~/.config/orderfeed/credentials"
)

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              keyringService,
		AllowedBackends:          keyringBackends,
		FileDir:                  keyringFileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("orderfeed-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Credential retrieves a stored credential by key from the system keyring.
func Credential(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// StoreCredential saves a credential in the system keyring.
func StoreCredential(key, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// DeleteCredential removes a credential from the system keyring.
func DeleteCredential(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	if err := ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
