package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Cache remembers where named devices were last seen, so they can be
// found again when they cannot announce their name: mid mode change,
// or running legacy firmware. Entries are hints, never authoritative;
// stale ones are removed when a lookup contradicts them.
type Cache interface {
	Lookup(name string) (Identity, bool)
	Store(name string, id Identity) error
	Remove(name string) error
}

// FileCache is a JSON file of name-to-identity entries.
type FileCache struct {
	path    string
	entries map[string]Identity
}

// DefaultCachePath places the cache in the user's cache directory.
func DefaultCachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate cache directory: %w", err)
	}
	return filepath.Join(dir, "picorom", "devices.json"), nil
}

// OpenFileCache loads an existing cache file or starts an empty one.
func OpenFileCache(path string) (*FileCache, error) {
	c := &FileCache{path: path, entries: map[string]Identity{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read device cache: %w", err)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		// A corrupt cache is not worth failing a command over.
		c.entries = map[string]Identity{}
	}
	return c, nil
}

func (c *FileCache) Lookup(name string) (Identity, bool) {
	id, ok := c.entries[name]
	return id, ok
}

func (c *FileCache) Store(name string, id Identity) error {
	c.entries[name] = id
	return c.save()
}

func (c *FileCache) Remove(name string) error {
	if _, ok := c.entries[name]; !ok {
		return nil
	}
	delete(c.entries, name)
	return c.save()
}

func (c *FileCache) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("write device cache: %w", err)
	}
	return nil
}
