package skill

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Manifest describes a declarative skill loaded from a SKILL.md file: YAML
// frontmatter for metadata, markdown body as the system prompt.
type Manifest struct {
	Name         string
	Description  string
	Prefix       string
	AllowedTools []string
	Retrieval    []string // corpora queried with the raw request text
	Body         string
	Path         string
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:[_-][a-z0-9]+)*$`)

// LoadDir scans a directory for skill subdirectories with SKILL.md.
func LoadDir(root string) ([]Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillPath := filepath.Join(root, entry.Name(), "SKILL.md")
		if _, err := os.Stat(skillPath); err != nil {
			continue
		}
		manifest, err := LoadFile(skillPath)
		if err != nil {
			return nil, err
		}
		out = append(out, manifest)
	}
	return out, nil
}

// LoadFile parses a single SKILL.md file.
func LoadFile(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}

	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return Manifest{}, fmt.Errorf("parse frontmatter: %w", err)
	}

	manifest := Manifest{
		Name:         strings.TrimSpace(parsed.Name),
		Description:  strings.TrimSpace(parsed.Description),
		Prefix:       strings.TrimSpace(parsed.Prefix),
		AllowedTools: dedupe(parsed.AllowedTools),
		Retrieval:    dedupe(parsed.Retrieval),
		Body:         strings.TrimSpace(body),
		Path:         path,
	}
	if err := validate(manifest); err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return manifest, nil
}

type frontmatter struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Prefix       string   `yaml:"prefix"`
	AllowedTools []string `yaml:"allowed-tools"`
	Retrieval    []string `yaml:"retrieval"`
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", errors.New("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", errors.New("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

func validate(m Manifest) error {
	if m.Name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(m.Name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name must match %s", namePattern.String())
	}
	if m.Description == "" {
		return errors.New("description is required")
	}
	if utf8.RuneCountInString(m.Description) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}
	if m.Body == "" {
		return errors.New("body (system prompt) is required")
	}
	return nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// ManifestSkill adapts a Manifest to the Skill interface.
type ManifestSkill struct {
	manifest Manifest
}

// FromManifest wraps a manifest as a Skill.
func FromManifest(m Manifest) *ManifestSkill {
	return &ManifestSkill{manifest: m}
}

func (s *ManifestSkill) Name() string           { return s.manifest.Name }
func (s *ManifestSkill) SystemPrompt() string   { return s.manifest.Body }
func (s *ManifestSkill) AllowedTools() []string { return s.manifest.AllowedTools }

// Queries issues one retrieval per declared corpus, using the raw text.
func (s *ManifestSkill) Queries(text string) []Query {
	queries := make([]Query, 0, len(s.manifest.Retrieval))
	for _, corpus := range s.manifest.Retrieval {
		queries = append(queries, Query{Text: text, Corpus: corpus})
	}
	return queries
}

// Manifest returns the underlying manifest.
func (s *ManifestSkill) Manifest() Manifest {
	return s.manifest
}
