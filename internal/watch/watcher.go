// Package watch reports when edits to habitat configuration files change
// the habitat's cache hash, meaning the next start will rebuild.
package watch

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups the bursts of events editors produce on save.
const DefaultDebounce = 100 * time.Millisecond

// HashFunc reloads the configuration and returns its cache hash.
type HashFunc func() (string, error)

// Change is a detected cache hash change, or a failure to compute one.
type Change struct {
	File     string // File whose edit triggered the check
	Previous string
	Hash     string
	Err      error
}

// Watcher monitors configuration files using fsnotify.
type Watcher struct {
	Files    []string
	Changes  <-chan Change // Read-only external channel
	Debounce time.Duration

	hash    HashFunc
	current string
	files   map[string]bool
	changes chan Change // Internal write channel
	done    chan struct{}
	watcher *fsnotify.Watcher
}

// New creates a watcher for files. hash is called once on Start and
// again after every debounced edit.
func New(files []string, hash HashFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(files))
	for _, file := range files {
		if abs, err := filepath.Abs(file); err == nil {
			set[abs] = true
		}
	}

	ch := make(chan Change, 16)
	return &Watcher{
		Files:    files,
		Changes:  ch,
		Debounce: DefaultDebounce,
		hash:     hash,
		files:    set,
		changes:  ch,
		done:     make(chan struct{}),
		watcher:  fw,
	}, nil
}

// Start computes the current hash and begins watching. The directories
// of the files are watched so that editors replacing a file on save are
// still seen.
func (w *Watcher) Start() (string, error) {
	current, err := w.hash()
	if err != nil {
		w.watcher.Close()
		return "", err
	}
	w.current = current

	dirs := map[string]bool{}
	for file := range w.files {
		dir := filepath.Dir(file)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := w.watcher.Add(dir); err != nil {
			w.watcher.Close()
			return "", err
		}
	}

	go w.loop()
	return current, nil
}

// Stop closes the watcher and the Changes channel.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done // Wait for loop to exit
	close(w.changes)
}

func (w *Watcher) loop() {
	defer close(w.done)

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				pending[event.Name] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			for file, t := range pending {
				if now.Sub(t) >= debounce {
					delete(pending, file)
					w.check(file)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.emit(Change{Previous: w.current, Err: err})
		}
	}
}

// check recomputes the hash and emits a change when it moved.
func (w *Watcher) check(file string) {
	hash, err := w.hash()
	if err != nil {
		w.emit(Change{File: file, Previous: w.current, Err: err})
		return
	}
	if hash == w.current {
		return
	}
	w.emit(Change{File: file, Previous: w.current, Hash: hash})
	w.current = hash
}

// emit never blocks the event loop; a full channel drops the change.
func (w *Watcher) emit(change Change) {
	select {
	case w.changes <- change:
	default:
	}
}
