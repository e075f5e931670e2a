package repo

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/credential"
)

// Clone is a clone command ready to run inside the container.
type Clone struct {
	// Script is passed to /bin/sh -c.
	Script string
	// Display is Script with credentials removed, for logs and errors.
	Display string
}

// CloneCommand builds the clone of r. With credentials, an HTTPS URL
// carries the token for the clone only; origin is reset to the plain
// URL afterwards. An existing checkout at the target path is left alone.
func CloneCommand(r config.Repository, creds *credential.Credentials) Clone {
	branch := r.Branch
	if branch == "" {
		branch = config.DefaultBranch
	}

	cloneURL := r.URL
	authenticated := false
	if creds != nil && creds.Token.Len() > 0 {
		if withAuth, ok := authenticatedURL(r.URL, creds.Username, creds.Token.String()); ok {
			cloneURL = withAuth
			authenticated = true
		}
	}

	render := func(source string) string {
		var lines []string
		lines = append(lines,
			"set -e",
			fmt.Sprintf("if [ -d %s ]; then echo %s; exit 0; fi", shellQuote(path.Join(r.Path, ".git")), shellQuote("already cloned: "+r.Path)),
			fmt.Sprintf("mkdir -p %s", shellQuote(path.Dir(r.Path))),
		)

		clone := []string{"git", "clone", "--branch", shellQuote(branch)}
		if r.IsShallow() {
			clone = append(clone, "--depth", "1")
		}
		clone = append(clone, shellQuote(source), shellQuote(r.Path))
		lines = append(lines, strings.Join(clone, " "))

		if authenticated {
			lines = append(lines, fmt.Sprintf("git -C %s remote set-url origin %s", shellQuote(r.Path), shellQuote(r.URL)))
		}
		return strings.Join(lines, "\n")
	}

	display := r.URL
	if authenticated {
		display = maskedURL(r.URL, creds.Username)
	}
	return Clone{Script: render(cloneURL), Display: render(display)}
}

func authenticatedURL(raw, username, token string) (string, bool) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		return "", false
	}
	if username == "" {
		username = credential.DefaultUsername
	}
	parsed.User = url.UserPassword(username, token)
	return parsed.String(), true
}

// maskedURL renders raw with the username and a literal *** in place of
// the token. url.UserPassword would percent-encode the mask.
func maskedURL(raw, username string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		return raw
	}
	if username == "" {
		username = credential.DefaultUsername
	}
	parsed.User = url.User(username)
	prefix := parsed.Scheme + "://" + parsed.User.String()
	return prefix + ":***" + strings.TrimPrefix(parsed.String(), prefix)
}

// shellQuote wraps s in single quotes for /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
