package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const passphraseFileName = ".passphrase"

// LoadOrCreatePassphrase reads the file-backend passphrase from
// dir/.passphrase, or generates and persists a new 256-bit hex-encoded one
// if the file is missing or empty. Only the encrypted file backend uses it;
// OS keychains ignore it.
func LoadOrCreatePassphrase(dir string) (string, error) {
	path := filepath.Join(dir, passphraseFileName)

	data, err := os.ReadFile(path) //nolint:gosec // path is built from configured credentials dir
	if err == nil && len(data) > 0 {
		return string(data), nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate passphrase: %w", err)
	}
	passphrase := hex.EncodeToString(b)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("write passphrase: %w", err)
	}

	return passphrase, nil
}
