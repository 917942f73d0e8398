package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/issuesync/internal/reconcile"
)

// Manifest lists repositories to sync. TOML form:
//
//	[[repository]]
//	name = "api"
//	owner = "acme"
//	pull_requests = "exclude"
type Manifest struct {
	Repositories []ManifestRepository `toml:"repository" yaml:"repository"`
}

// ManifestRepository is one manifest entry. Owner and PullRequests are
// optional.
type ManifestRepository struct {
	Name         string `toml:"name" yaml:"name"`
	Owner        string `toml:"owner" yaml:"owner"`
	PullRequests string `toml:"pull_requests" yaml:"pull_requests"`
}

// Ref is the repository reference passed to the issue source.
func (r ManifestRepository) Ref() string {
	name := strings.TrimSpace(r.Name)
	if owner := strings.TrimSpace(r.Owner); owner != "" && !strings.Contains(name, "/") {
		return owner + "/" + name
	}
	return name
}

// LoadManifest reads a manifest, choosing the format by extension.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data, filepath.Ext(path))
}

// ParseManifest decodes a manifest in the format named by ext
// (".toml", ".yaml" or ".yml").
func ParseManifest(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(data), &m)
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown manifest keys: %v", undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q (want .toml, .yaml or .yml)", ext)
	}

	for i, repo := range m.Repositories {
		if strings.TrimSpace(repo.Name) == "" {
			return nil, fmt.Errorf("manifest entry %d has no name", i+1)
		}
		if _, err := reconcile.ParsePullRequestPolicy(repo.PullRequests); err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", repo.Name, err)
		}
	}
	return &m, nil
}

func (m *Manifest) apply(targets *Targets) error {
	seen := make(map[string]bool, len(targets.Repositories))
	for _, ref := range targets.Repositories {
		seen[ref] = true
	}
	for _, repo := range m.Repositories {
		ref := repo.Ref()
		if !seen[ref] {
			seen[ref] = true
			targets.Repositories = append(targets.Repositories, ref)
		}
		if repo.PullRequests != "" {
			policy, err := reconcile.ParsePullRequestPolicy(repo.PullRequests)
			if err != nil {
				return err
			}
			targets.Overrides[ref] = policy
		}
	}
	return nil
}
