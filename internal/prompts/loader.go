// Package prompts loads the coaching prompt templates. Templates are
// external data: they live as plain text files under a prompts directory
// and are substituted with {placeholder} variables at call time.
package prompts

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Template file names inside the prompts directory.
const (
	SystemFile      = "system.txt"
	SummaryFile     = "summary.txt"
	ProgressionFile = "progression.txt"
	ClosingFile     = "closing.txt"
)

// Set holds the four raw templates of one load.
type Set struct {
	System      string // coaching persona, no placeholders
	Summary     string // consumes {summary} and {new_lines}
	Progression string // consumes {summary} and {recent_messages}
	Closing     string // consumes {summary}
}

// Defaults returns the built-in template set.
func Defaults() Set {
	return Set{
		System:      defaultSystem,
		Summary:     defaultSummary,
		Progression: defaultProgression,
		Closing:     defaultClosing,
	}
}

// Render substitutes {key} placeholders in a template.
func Render(tmpl string, vars map[string]string) string {
	out := tmpl
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}

// Loader reads templates from a directory at boot and reloads them when
// the files change. Missing files fall back to the built-in defaults.
type Loader struct {
	dir string

	mu  sync.RWMutex
	set Set

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader loads the templates from dir. A missing directory is not an
// error; the defaults serve until files appear.
func NewLoader(dir string) (*Loader, error) {
	l := &Loader{dir: dir, set: Defaults(), done: make(chan struct{})}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Current returns the most recently loaded template set.
func (l *Loader) Current() Set {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set
}

// reload reads every template file that exists, keeping defaults for the
// rest.
func (l *Loader) reload() error {
	set := Defaults()

	load := func(name string, dst *string) error {
		path := filepath.Join(l.dir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read prompt file %s: %w", path, err)
		}
		text := strings.TrimRight(string(data), "\n")
		if strings.TrimSpace(text) == "" {
			return nil
		}
		*dst = text
		return nil
	}

	if err := load(SystemFile, &set.System); err != nil {
		return err
	}
	if err := load(SummaryFile, &set.Summary); err != nil {
		return err
	}
	if err := load(ProgressionFile, &set.Progression); err != nil {
		return err
	}
	if err := load(ClosingFile, &set.Closing); err != nil {
		return err
	}

	l.mu.Lock()
	l.set = set
	l.mu.Unlock()
	return nil
}

// Watch starts a filesystem watcher on the prompts directory and reloads
// templates on change. Best effort: a watch failure leaves the boot-time
// templates in place.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch prompts directory: %w", err)
	}
	l.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := l.reload(); err != nil {
					log.Printf("prompt reload failed: %v", err)
				} else {
					log.Printf("prompt templates reloaded after change to %s", filepath.Base(event.Name))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("prompt watcher error: %v", err)
			case <-l.done:
				return
			}
		}
	}()

	return nil
}

// Close stops the watcher if one is running.
func (l *Loader) Close() {
	close(l.done)
	if l.watcher != nil {
		l.watcher.Close()
	}
}
