package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/99designs/keyring"

	"github.com/btouchard/beacon/internal/config"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("credential not found")

// defaultBackends is the preference order when none are configured.
var defaultBackends = []keyring.BackendType{
	keyring.KeychainBackend,
	keyring.SecretServiceBackend,
	keyring.WinCredBackend,
	keyring.PassBackend,
	keyring.FileBackend,
}

// Store is a namespaced key/value view over a system keyring. Every key is
// stored as "<namespace>.<key>" so several profiles can share one keyring.
type Store struct {
	ring      keyring.Keyring
	namespace string
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring, namespace string) *Store {
	return &Store{ring: ring, namespace: namespace}
}

// Open opens the system keyring described by cfg. The encrypted file
// backend is keyed with a passphrase generated once per credentials dir.
func Open(cfg config.CredentialsConfig, namespace string) (*Store, error) {
	backends := defaultBackends
	if len(cfg.Backends) > 0 {
		backends = make([]keyring.BackendType, 0, len(cfg.Backends))
		for _, b := range cfg.Backends {
			backends = append(backends, keyring.BackendType(b))
		}
	}

	passphrase, err := LoadOrCreatePassphrase(cfg.FileDir)
	if err != nil {
		return nil, err
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.Service,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(passphrase),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}

	return New(ring, namespace), nil
}

func (s *Store) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + "." + k
}

// GetBlob retrieves raw bytes by key.
func (s *Store) GetBlob(key string) ([]byte, error) {
	item, err := s.ring.Get(s.key(key))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", key, err)
	}
	return item.Data, nil
}

// SetBlob stores raw bytes by key.
func (s *Store) SetBlob(key string, value []byte) error {
	err := s.ring.Set(keyring.Item{
		Key:   s.key(key),
		Data:  value,
		Label: s.key(key),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// GetString retrieves a string value by key. Empty values are reported as
// ErrNotFound.
func (s *Store) GetString(key string) (string, error) {
	data, err := s.GetBlob(key)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrNotFound
	}
	return string(data), nil
}

// SetString stores a string value by key.
func (s *Store) SetString(key, value string) error {
	return s.SetBlob(key, []byte(value))
}

// GetTime retrieves a timestamp stored with SetTime.
func (s *Store) GetTime(key string) (time.Time, error) {
	raw, err := s.GetString(key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing credential %q as time: %w", key, err)
	}
	return t, nil
}

// SetTime stores a timestamp by key.
func (s *Store) SetTime(key string, value time.Time) error {
	return s.SetString(key, value.UTC().Format(time.RFC3339Nano))
}

// Delete removes a credential by key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	err := s.ring.Remove(s.key(key))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
