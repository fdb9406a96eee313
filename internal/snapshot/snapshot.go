// Package snapshot reads and writes the server list as a YAML document,
// used for seeding a fresh install and for periodic backups.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lanward/lanward/internal/registry"
	"gopkg.in/yaml.v3"
)

// File is the on-disk document.
type File struct {
	Servers []Entry `yaml:"servers"`
}

// Entry mirrors the persisted server fields. AutoStart defaults to true
// when absent so hand-written seed files get the common case for free.
type Entry struct {
	ID        string `yaml:"id,omitempty"`
	Name      string `yaml:"name"`
	Address   string `yaml:"address"`
	Port      string `yaml:"port"`
	AutoStart *bool  `yaml:"auto_start,omitempty"`
}

// Import parses the YAML file at path. Entries missing a name, address or
// port are rejected rather than silently dropped.
func Import(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	for i, e := range f.Servers {
		if e.Name == "" || e.Address == "" || e.Port == "" {
			return nil, fmt.Errorf("snapshot entry %d: name, address and port are required", i)
		}
	}
	return f.Servers, nil
}

// AutoStartValue resolves the entry's flag with its default.
func (e Entry) AutoStartValue() bool {
	if e.AutoStart == nil {
		return true
	}
	return *e.AutoStart
}

// Export writes the servers to path atomically (write temp file, rename).
func Export(path string, servers []registry.Server) error {
	f := File{Servers: make([]Entry, len(servers))}
	for i, srv := range servers {
		autoStart := srv.AutoStart
		f.Servers[i] = Entry{
			ID:        srv.ID,
			Name:      srv.Name,
			Address:   srv.Address,
			Port:      srv.Port,
			AutoStart: &autoStart,
		}
	}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
