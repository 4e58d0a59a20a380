// Package catalog loads the repository catalog: the list of repositories the
// server indexes and where their index directories live on disk.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"repolens/internal/core"
)

// Repo is one catalog entry.
type Repo struct {
	// Name identifies the repository in search requests (e.g. "acme/widgets").
	Name string `yaml:"name" json:"name"`
	// Path is the index directory, absolute or relative to the data dir.
	// Not exposed over the API.
	Path string `yaml:"path" json:"-"`
	// Description is free text shown in the repository listing.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Catalog is an immutable set of repositories loaded at startup.
type Catalog struct {
	repos map[string]Repo
	order []string
}

type catalogFile struct {
	Repos []Repo `yaml:"repos"`
}

// Load reads a repos.yaml catalog. Relative index paths are resolved against
// dataDir. Names must be non-empty and unique.
func Load(path, dataDir string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{repos: make(map[string]Repo, len(file.Repos))}
	for i, repo := range file.Repos {
		if repo.Name == "" {
			return nil, core.NewConfigurationError(fmt.Sprintf("catalog entry #%d has no name", i))
		}
		if repo.Path == "" {
			return nil, core.NewConfigurationError(fmt.Sprintf("catalog entry %q has no path", repo.Name))
		}
		if _, dup := c.repos[repo.Name]; dup {
			return nil, core.NewConfigurationError(fmt.Sprintf("duplicate catalog entry: %q", repo.Name))
		}
		if !filepath.IsAbs(repo.Path) {
			repo.Path = filepath.Join(dataDir, repo.Path)
		}
		c.repos[repo.Name] = repo
		c.order = append(c.order, repo.Name)
	}

	return c, nil
}

// Get returns the catalog entry for name.
func (c *Catalog) Get(name string) (Repo, error) {
	repo, ok := c.repos[name]
	if !ok {
		return Repo{}, core.NewNotFoundError("unknown repository: " + name)
	}
	return repo, nil
}

// List returns all entries in catalog order.
func (c *Catalog) List() []Repo {
	out := make([]Repo, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.repos[name])
	}
	return out
}
