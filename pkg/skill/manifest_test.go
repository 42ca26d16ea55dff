package skill

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkillFile(t *testing.T, root, dir, content string) string {
	t.Helper()
	skillDir := filepath.Join(root, dir)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(skillDir, "SKILL.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	content := `---
name: network-triage
description: Diagnoses NIC and fabric issues.
prefix: /net
allowed-tools:
  - log_search
  - kb_query
retrieval:
  - logs
---

You are a datacenter network triage assistant.
`
	path := writeSkillFile(t, t.TempDir(), "network-triage", content)

	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Name != "network-triage" {
		t.Fatalf("unexpected name: %s", m.Name)
	}
	if m.Prefix != "/net" {
		t.Fatalf("unexpected prefix: %s", m.Prefix)
	}
	if len(m.AllowedTools) != 2 {
		t.Fatalf("unexpected allowed tools: %v", m.AllowedTools)
	}
	if m.Body != "You are a datacenter network triage assistant." {
		t.Fatalf("unexpected body: %q", m.Body)
	}
}

func TestLoadFileRejectsMissingName(t *testing.T) {
	content := `---
description: no name here
---
Prompt body.
`
	path := writeSkillFile(t, t.TempDir(), "broken", content)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("missing name should fail")
	}
}

func TestLoadFileRejectsBadName(t *testing.T) {
	content := `---
name: Bad Name!
description: invalid characters
---
Prompt body.
`
	path := writeSkillFile(t, t.TempDir(), "badname", content)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("invalid name should fail")
	}
}

func TestLoadFileRejectsMissingBody(t *testing.T) {
	content := `---
name: empty-body
description: has no prompt
---
`
	path := writeSkillFile(t, t.TempDir(), "empty-body", content)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("empty body should fail")
	}
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	writeSkillFile(t, root, "one", `---
name: one
description: first skill
prefix: /one
---
Prompt one.
`)
	writeSkillFile(t, root, "two", `---
name: two
description: second skill
prefix: /two
---
Prompt two.
`)
	// A directory without SKILL.md is skipped.
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	manifests, err := LoadDir(root)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(manifests) != 2 {
		t.Fatalf("expected 2 manifests, got %d", len(manifests))
	}
}

func TestManifestSkillAdapter(t *testing.T) {
	m := Manifest{
		Name:         "net-triage",
		Description:  "network triage",
		Prefix:       "/net",
		AllowedTools: []string{"log_search"},
		Retrieval:    []string{"logs", "knowledge"},
		Body:         "Prompt.",
	}
	s := FromManifest(m)

	if s.Name() != "net-triage" || s.SystemPrompt() != "Prompt." {
		t.Fatalf("adapter mismatch: %s %q", s.Name(), s.SystemPrompt())
	}
	queries := s.Queries("link flapping")
	if len(queries) != 2 || queries[0].Corpus != "logs" || queries[0].Text != "link flapping" {
		t.Fatalf("unexpected queries: %+v", queries)
	}
}
