package store

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed targets.yaml
var defaultTargetsYAML []byte

type seedFile struct {
	Targets []seedTarget `yaml:"targets"`
}

type seedTarget struct {
	Name             string `yaml:"name"`
	URL              string `yaml:"url"`
	AvailableColor   string `yaml:"available_color"`
	UnavailableColor string `yaml:"unavailable_color"`
	CheckIntervalSec int    `yaml:"check_interval_sec"`
}

// SeedTargets inserts the configured target sites if they are not already
// present. Existing rows are left untouched, so the seed is idempotent and
// safe to run on every boot. path may be empty to use the embedded set.
func (r *Repo) SeedTargets(path string) error {
	raw := defaultTargetsYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read targets file: %w", err)
		}
		raw = b
	}

	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse targets file: %w", err)
	}
	if len(f.Targets) == 0 {
		return fmt.Errorf("targets file defines no targets")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, t := range f.Targets {
		if t.Name == "" || t.URL == "" || t.AvailableColor == "" {
			return fmt.Errorf("target %q: name, url, and available_color are required", t.Name)
		}
		interval := t.CheckIntervalSec
		if interval <= 0 {
			interval = 10
		}
		_, err := tx.Exec(`
			INSERT INTO targets (id, name, url, available_color, unavailable_color, check_interval_sec)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO NOTHING
		`, uuid.NewString(), t.Name, t.URL, t.AvailableColor, t.UnavailableColor, interval)
		if err != nil {
			return fmt.Errorf("seed target %q: %w", t.Name, err)
		}
	}

	return tx.Commit()
}
