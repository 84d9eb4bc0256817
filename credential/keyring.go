// Package credential stores destination passwords in the system keyring.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "archive-import"

// ErrNotFound is returned when no password is stored for a key.
var ErrNotFound = keyring.ErrKeyNotFound

// Open returns the keyring used for destination passwords.
func Open() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/archive-import/credentials",
		FilePasswordFunc:         keyring.TerminalPrompt,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Lookup returns the password stored under key.
func Lookup(ring keyring.Keyring, key string) (string, error) {
	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Store saves password under key.
func Store(ring keyring.Keyring, key, password string) error {
	err := ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(password),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Remove deletes the password stored under key.
func Remove(ring keyring.Keyring, key string) error {
	if err := ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Get opens the system keyring and looks up key. A missing entry yields an
// empty password and no error.
func Get(key string) (string, error) {
	ring, err := Open()
	if err != nil {
		return "", err
	}
	password, err := Lookup(ring, key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	return password, err
}
