package source

import "sync"

// SecureStore is the secure credential collaborator. Xtream passwords and
// the parental PIN hash go through this interface only; the plain catalog
// store never sees them. Production embedders back this with the platform
// keychain.
type SecureStore interface {
	Put(key, secret string) error
	Get(key string) (string, bool, error)
	Delete(key string) error
}

// CredentialKey is the secure-store key for a source's password.
func CredentialKey(sourceID string) string { return "xtream-pass/" + sourceID }

// PINHashKey is the secure-store key for the parental PIN hash.
const PINHashKey = "parental/pin-hash"

// MemorySecureStore is an in-process SecureStore for tests and for
// signed-out device-scoped state.
type MemorySecureStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemorySecureStore() *MemorySecureStore {
	return &MemorySecureStore{secrets: make(map[string]string)}
}

func (m *MemorySecureStore) Put(key, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = secret
	return nil
}

func (m *MemorySecureStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.secrets[key]
	return s, ok, nil
}

func (m *MemorySecureStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
	return nil
}
