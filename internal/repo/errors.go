package repo

import "fmt"

// RepositoryError reports a repository that could not be checked or
// cloned. It is always fatal to the build.
type RepositoryError struct {
	URL  string
	Path string
	Op   string
	Err  error
}

func (e *RepositoryError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("repository %s (%s): %s: %v", e.URL, e.Path, e.Op, e.Err)
	}
	return fmt.Sprintf("repository %s: %s: %v", e.URL, e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}
