// Package credential supplies the git credentials used to check and
// clone habitat repositories.
package credential

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNoCredentials is returned by a Provider that has nothing to offer.
var ErrNoCredentials = errors.New("no git credentials available")

// DefaultTokenVars are the environment variables EnvProvider checks, in
// order.
var DefaultTokenVars = []string{"GITHUB_TOKEN", "GH_TOKEN"}

// DefaultUsername is the HTTP basic auth user paired with a token.
const DefaultUsername = "x-access-token"

// SecureToken wraps a token with the ability to clear it from memory.
type SecureToken struct {
	data []byte
}

// NewSecureToken takes ownership of data.
func NewSecureToken(data []byte) *SecureToken {
	return &SecureToken{data: data}
}

// String returns the token as a string.
func (s *SecureToken) String() string {
	if s == nil || s.data == nil {
		return ""
	}
	return string(s.data)
}

// Clear zeros out the token data in memory.
// Should be called when the token is no longer needed.
func (s *SecureToken) Clear() {
	if s == nil || s.data == nil {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
	s.data = nil
}

// Len returns the length of the token.
func (s *SecureToken) Len() int {
	if s == nil {
		return 0
	}
	return len(s.data)
}

// Credentials pair a username with a token.
type Credentials struct {
	Username string
	Token    *SecureToken
	// Source names where the token came from, for diagnostics.
	Source string
}

// Clear releases the token.
func (c *Credentials) Clear() {
	if c != nil {
		c.Token.Clear()
	}
}

// Provider returns git credentials. Implementations return
// ErrNoCredentials when they have none.
type Provider interface {
	GitCredentials(ctx context.Context) (*Credentials, error)
}

// EnvProvider reads a token from environment variables.
type EnvProvider struct {
	// Vars are checked in order. Defaults to DefaultTokenVars.
	Vars []string
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

func (p EnvProvider) GitCredentials(context.Context) (*Credentials, error) {
	lookup := p.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	vars := p.Vars
	if len(vars) == 0 {
		vars = DefaultTokenVars
	}

	for _, name := range vars {
		if value, ok := lookup(name); ok && strings.TrimSpace(value) != "" {
			return &Credentials{
				Username: DefaultUsername,
				Token:    NewSecureToken([]byte(strings.TrimSpace(value))),
				Source:   "$" + name,
			}, nil
		}
	}
	return nil, ErrNoCredentials
}

// FileProvider reads a token from the first line of a file.
type FileProvider struct {
	Path string
}

func (p FileProvider) GitCredentials(context.Context) (*Credentials, error) {
	if p.Path == "" {
		return nil, ErrNoCredentials
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading token file %s: %w", p.Path, err)
	}
	defer clear(data)

	line, _, _ := bytes.Cut(data, []byte("\n"))
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ErrNoCredentials
	}
	token := make([]byte, len(line))
	copy(token, line)
	return &Credentials{Username: DefaultUsername, Token: NewSecureToken(token), Source: p.Path}, nil
}

// TokenProvider hands out a token it was given, e.g. one read from
// stdin.
type TokenProvider struct {
	Token  []byte
	Source string
}

func (p TokenProvider) GitCredentials(context.Context) (*Credentials, error) {
	token := bytes.TrimSpace(p.Token)
	if len(token) == 0 {
		return nil, ErrNoCredentials
	}
	return &Credentials{Username: DefaultUsername, Token: NewSecureToken(bytes.Clone(token)), Source: p.Source}, nil
}

// PromptProvider asks for a token interactively.
type PromptProvider struct {
	Prompt string
	// Read returns the entered secret; typically terminal.ReadSecret.
	Read func(prompt string) ([]byte, error)
}

func (p PromptProvider) GitCredentials(context.Context) (*Credentials, error) {
	if p.Read == nil {
		return nil, ErrNoCredentials
	}
	secret, err := p.Read(p.Prompt)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(secret)) == 0 {
		clear(secret)
		return nil, ErrNoCredentials
	}
	return &Credentials{Username: DefaultUsername, Token: NewSecureToken(secret), Source: "prompt"}, nil
}

// Chain tries providers in order and returns the first credentials
// found. Errors other than ErrNoCredentials stop the search.
type Chain []Provider

func (c Chain) GitCredentials(ctx context.Context) (*Credentials, error) {
	for _, provider := range c {
		creds, err := provider.GitCredentials(ctx)
		if err == nil {
			return creds, nil
		}
		if !errors.Is(err, ErrNoCredentials) {
			return nil, err
		}
	}
	return nil, ErrNoCredentials
}

// Cached asks Provider once and hands out copies of the answer. Callers
// may Clear each copy independently; Clear on the Cached releases the
// original.
type Cached struct {
	Provider Provider

	once  sync.Once
	mu    sync.Mutex
	creds *Credentials
	err   error
}

// NewCached wraps provider.
func NewCached(provider Provider) *Cached {
	return &Cached{Provider: provider}
}

func (c *Cached) GitCredentials(ctx context.Context) (*Credentials, error) {
	c.once.Do(func() {
		c.creds, c.err = c.Provider.GitCredentials(ctx)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.creds == nil || c.creds.Token.Len() == 0 {
		return nil, ErrNoCredentials
	}
	return &Credentials{
		Username: c.creds.Username,
		Token:    NewSecureToken([]byte(c.creds.Token.String())),
		Source:   c.creds.Source,
	}, nil
}

// Clear releases the cached token. Later calls report ErrNoCredentials.
func (c *Cached) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds.Clear()
}
