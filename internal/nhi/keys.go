// Package nhi implements non-human identity: per-agent Ed25519 keypairs,
// Cite-Before-Act data citations, and signed decision traces.
//
// Private keys are persisted as unencrypted PKCS#8 PEM files under a keys
// directory, one file per agent, so decision traces survive process
// restarts. Public keys are derived on demand and exported as the base64
// of the raw 32-byte key.
package nhi

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when no key file exists for an agent.
var ErrNotFound = errors.New("nhi: key not found")

// ErrWrongAlgorithm is returned when a key file holds a non-Ed25519 key.
var ErrWrongAlgorithm = errors.New("nhi: key is not Ed25519")

// AgentIDs are the identities provisioned at startup. The finalizer
// aggregates rather than decides, so it carries no keypair.
var AgentIDs = []string{"detector", "jurist", "architect", "governor"}

// KeyStore manages per-agent Ed25519 keypairs on disk with a process-wide
// read cache. Safe for concurrent use; concurrent generates for the same
// agent collapse to a single write (first writer wins).
type KeyStore struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]ed25519.PrivateKey

	group singleflight.Group
}

// NewKeyStore creates a key store rooted at dir, creating it if needed.
func NewKeyStore(dir string, logger *slog.Logger) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("nhi: create keys dir: %w", err)
	}
	return &KeyStore{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]ed25519.PrivateKey),
	}, nil
}

func (s *KeyStore) keyPath(agentID string) string {
	return filepath.Join(s.dir, agentID+".pem")
}

// EnsureAll generates keypairs for every listed agent that does not
// already have one. Idempotent; safe to call at every process start.
func (s *KeyStore) EnsureAll(ids []string) error {
	for _, id := range ids {
		if _, err := s.Generate(id, false); err != nil {
			return fmt.Errorf("nhi: ensure key for %q: %w", id, err)
		}
	}
	s.logger.Info("agent identity keys verified", "agents", len(ids))
	return nil
}

// Generate creates and persists an Ed25519 keypair for agentID. If a key
// already exists and overwrite is false, the existing key is returned.
func (s *KeyStore) Generate(agentID string, overwrite bool) (ed25519.PrivateKey, error) {
	if !overwrite {
		if priv, err := s.Private(agentID); err == nil {
			return priv, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	v, err, _ := s.group.Do(agentID, func() (any, error) {
		// Double-check under the flight: a concurrent caller may have
		// written the key between our miss and this closure running.
		if !overwrite {
			if priv, err := s.loadPrivate(agentID); err == nil {
				return priv, nil
			} else if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}

		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("nhi: generate key: %w", err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("nhi: marshal key: %w", err)
		}
		block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
		if err := os.WriteFile(s.keyPath(agentID), pem.EncodeToMemory(block), 0o600); err != nil {
			return nil, fmt.Errorf("nhi: write key: %w", err)
		}
		s.logger.Info("generated Ed25519 keypair", "agent_id", agentID)
		return priv, nil
	})
	if err != nil {
		return nil, err
	}

	priv := v.(ed25519.PrivateKey)
	s.mu.Lock()
	s.cache[agentID] = priv
	s.mu.Unlock()
	return priv, nil
}

// Private returns the private key for agentID, loading from disk on a
// cache miss. Returns ErrNotFound when no key file exists and
// ErrWrongAlgorithm when the file holds a different key type.
func (s *KeyStore) Private(agentID string) (ed25519.PrivateKey, error) {
	s.mu.RLock()
	priv, ok := s.cache[agentID]
	s.mu.RUnlock()
	if ok {
		return priv, nil
	}

	priv, err := s.loadPrivate(agentID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[agentID] = priv
	s.mu.Unlock()
	return priv, nil
}

func (s *KeyStore) loadPrivate(agentID string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(s.keyPath(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: agent %q at %s", ErrNotFound, agentID, s.keyPath(agentID))
		}
		return nil, fmt.Errorf("nhi: read key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("nhi: no PEM block in %s", s.keyPath(agentID))
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("nhi: parse key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrWrongAlgorithm, parsed)
	}
	return priv, nil
}

// Public derives the public key from the stored private key.
func (s *KeyStore) Public(agentID string) (ed25519.PublicKey, error) {
	priv, err := s.Private(agentID)
	if err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}

// PublicKeyB64 returns the base64 of the raw 32-byte public key
// (always 44 characters).
func (s *KeyStore) PublicKeyB64(agentID string) (string, error) {
	pub, err := s.Public(agentID)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}
