package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v6"
	gitconfig "github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/transport"
	githttp "github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/go-git/go-git/v6/storage/memory"

	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/credential"
	"github.com/jeanhaley32/claude-habitat/internal/ctxlog"
)

// Result describes a successful access check.
type Result struct {
	URL           string
	Mode          string
	Refs          int
	HeadBranch    string
	Authenticated bool
}

// RemoteLister lists the references advertised by a remote.
type RemoteLister func(ctx context.Context, url string, auth transport.AuthMethod) ([]*plumbing.Reference, error)

// GitAccess checks repositories by listing their remote references.
type GitAccess struct {
	Credentials credential.Provider

	// List defaults to an in-memory go-git remote.
	List RemoteLister
}

// NewGitAccess returns a GitAccess using creds, which may be nil.
func NewGitAccess(creds credential.Provider) *GitAccess {
	return &GitAccess{Credentials: creds}
}

// TestAccess lists the remote references of url. Read access only needs
// the listing to succeed; write access additionally requires credentials,
// since anonymous clones can never push.
func (g *GitAccess) TestAccess(ctx context.Context, url string, mode string) (Result, error) {
	if mode == "" {
		mode = config.AccessWrite
	}
	if mode != config.AccessRead && mode != config.AccessWrite {
		return Result{}, &RepositoryError{URL: url, Op: "check access", Err: fmt.Errorf("invalid access mode %q", mode)}
	}

	creds, err := g.credentials(ctx)
	if err != nil {
		return Result{}, &RepositoryError{URL: url, Op: "load credentials", Err: err}
	}
	defer creds.Clear()

	if mode == config.AccessWrite && creds == nil {
		return Result{}, &RepositoryError{URL: url, Op: "check write access", Err: credential.ErrNoCredentials}
	}

	var auth transport.AuthMethod
	if creds != nil && isHTTP(url) {
		auth = &githttp.BasicAuth{Username: creds.Username, Password: creds.Token.String()}
	}

	list := g.List
	if list == nil {
		list = listRemote
	}
	refs, err := list(ctx, url, auth)
	if err != nil {
		return Result{}, &RepositoryError{URL: url, Op: "list remote", Err: err}
	}

	result := Result{URL: url, Mode: mode, Refs: len(refs), Authenticated: auth != nil}
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference {
			result.HeadBranch = ref.Target().Short()
		}
	}

	ctxlog.FromContext(ctx).Debug("repository accessible", "url", url, "mode", mode, "refs", result.Refs)
	return result, nil
}

// credentials returns nil without error when no provider has any.
func (g *GitAccess) credentials(ctx context.Context) (*credential.Credentials, error) {
	if g.Credentials == nil {
		return nil, nil
	}
	creds, err := g.Credentials.GitCredentials(ctx)
	if errors.Is(err, credential.ErrNoCredentials) {
		return nil, nil
	}
	return creds, err
}

func listRemote(ctx context.Context, url string, auth transport.AuthMethod) ([]*plumbing.Reference, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	return remote.ListContext(ctx, &git.ListOptions{Auth: auth})
}

func isHTTP(url string) bool {
	return strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://")
}
