package bots

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Profile is a bot configuration file: the endpoints a bot exposes plus
// an optional secret guard. A guarded profile carries the sha256 of its
// secret and refuses to load until the matching secret is supplied.
type Profile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	SecretHash  string            `yaml:"secretHash,omitempty"`
	Endpoints   []ProfileEndpoint `yaml:"endpoints"`
}

type ProfileEndpoint struct {
	Name        string `yaml:"name"`
	ServiceURL  string `yaml:"serviceUrl"`
	AppID       string `yaml:"appId,omitempty"`
	AppPassword string `yaml:"appPassword,omitempty"`
}

// Info is a recent-bots entry.
type Info struct {
	Path        string `yaml:"path"`
	DisplayName string `yaml:"displayName"`
	Secret      string `yaml:"secret,omitempty"`
}

// SecretPrompt asks the user for a new secret. Returning an empty string
// means the prompt was dismissed.
type SecretPrompt func(ctx context.Context, reason string) (string, error)

var (
	ErrSecretRequired = errors.New("bot profile requires a secret")
	ErrDismissed      = errors.New("secret prompt dismissed")
)

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func readProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse bot profile: %w", err)
	}
	return p, nil
}

func checkSecret(p Profile, secret string) error {
	if p.SecretHash == "" {
		return nil
	}
	if secret == "" || hashSecret(secret) != p.SecretHash {
		return ErrSecretRequired
	}
	return nil
}

// Manager tracks the recent-bots list and loads profiles, re-prompting
// for the secret until it is accepted or the prompt is dismissed. The
// retry is an explicit loop with no automatic cap; dismissal is the
// only exit.
type Manager struct {
	mu     sync.Mutex
	recent []Info
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Recent() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, len(m.recent))
	copy(out, m.recent)
	return out
}

// Patch upserts a recent-bots entry, moving it to the front.
func (m *Manager) Patch(path string, info Info) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info.Path = path
	for i, existing := range m.recent {
		if existing.Path == path {
			m.recent = append(m.recent[:i], m.recent[i+1:]...)
			break
		}
	}
	m.recent = append([]Info{info}, m.recent...)
}

func (m *Manager) infoByPath(path string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, info := range m.recent {
		if info.Path == path {
			return info, true
		}
	}
	return Info{}, false
}

// Load reads the profile at path, trying the given secret first and then
// prompting until the secret is accepted or the user dismisses the
// prompt.
func (m *Manager) Load(ctx context.Context, path, secret string, prompt SecretPrompt) (Profile, error) {
	p, err := readProfile(path)
	if err != nil {
		return Profile{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return Profile{}, err
		}

		if err := checkSecret(p, secret); err == nil {
			break
		}
		if prompt == nil {
			return Profile{}, ErrSecretRequired
		}

		next, err := prompt(ctx, "bot profile requires a secret")
		if err != nil {
			return Profile{}, err
		}
		if next == "" {
			return Profile{}, ErrDismissed
		}
		secret = next
	}

	display := p.Name
	if display == "" {
		display = path
	}
	info := Info{DisplayName: display, Secret: secret}
	if existing, ok := m.infoByPath(path); ok && existing.Secret == secret {
		info = existing
		info.DisplayName = display
	}
	m.Patch(path, info)

	return p, nil
}
