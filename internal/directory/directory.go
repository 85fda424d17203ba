// Package directory holds the specialist roster: who can be contacted for
// which kind of work.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"hkbot/internal/domain"
)

type file struct {
	People []domain.Person `yaml:"people"`
}

// Directory is a read-mostly roster loaded from a YAML file.
type Directory struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	people []domain.Person
	phones map[string]struct{}
}

// Load reads the roster at path. A missing or unreadable file yields an
// empty directory and a logged warning; lookups then return no people.
func Load(path string, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{path: path, logger: logger}
	if err := d.Reload(); err != nil {
		logger.Warn("specialist directory not loaded", "path", path, "err", err)
	}
	return d
}

// Reload re-reads the file. On error the previous roster is kept.
func (d *Directory) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse directory: %w", err)
	}

	people := make([]domain.Person, 0, len(f.People))
	phones := make(map[string]struct{}, len(f.People))
	for _, p := range f.People {
		if !p.Type.Valid() {
			d.logger.Warn("skipping person with unknown type", "name", p.Name, "type", p.Type)
			continue
		}
		people = append(people, p)
		phones[domain.NormalizePhone(p.Phone)] = struct{}{}
	}

	d.mu.Lock()
	d.people, d.phones = people, phones
	d.mu.Unlock()

	d.logger.Info("specialist directory loaded", "path", d.path, "people", len(people))
	return nil
}

// ByType returns the people of the given profession, in file order.
func (d *Directory) ByType(t domain.Profession) []domain.Person {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := []domain.Person{}
	for _, p := range d.people {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// IsSpecialist reports whether phone belongs to someone in the roster.
func (d *Directory) IsSpecialist(phone string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.phones[domain.NormalizePhone(phone)]
	return ok
}

// Len is the number of people currently loaded.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.people)
}

// Watch reloads the roster whenever the file changes, until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (d *Directory) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(d.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(d.path), err)
	}

	go func() {
		defer w.Close()
		target := filepath.Clean(d.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := d.Reload(); err != nil {
					d.logger.Warn("directory reload failed", "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				d.logger.Warn("directory watcher error", "err", err)
			}
		}
	}()
	return nil
}
