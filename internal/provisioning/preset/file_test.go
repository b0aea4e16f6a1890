package preset

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, "presets.yaml", `presets:
  - identifier: " B0001 "
    email: head@lab.example
    secret: s3cret
    displayName: Lab Head
  - identifier: B0002
    email: ta@lab.example
    secret: s3cret2
`)
	tbl, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	p, ok := tbl.Resolve("B0001")
	if !ok {
		t.Fatal("B0001 should resolve")
	}
	if p.Email != "head@lab.example" || p.DisplayName != "Lab Head" {
		t.Errorf("preset = %+v", p)
	}
	if _, ok := tbl.Resolve("A0001"); ok {
		t.Error("built-in presets must not leak into a loaded table")
	}
}

func TestLoadFile_JSON(t *testing.T) {
	path := writeFile(t, "presets.json", `{"presets":[{"identifier":"C1","email":"c@x.io","secret":"pw"}]}`)
	tbl, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if _, ok := tbl.Resolve("C1"); !ok {
		t.Error("C1 should resolve")
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name, file, body string
	}{
		{"empty", "p.yaml", "presets: []\n"},
		{"missing secret", "p.yaml", "presets:\n  - identifier: X\n    email: x@y.z\n"},
		{"duplicate", "p.yaml", "presets:\n  - {identifier: X, email: a@b.c, secret: s}\n  - {identifier: X, email: d@e.f, secret: t}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFile(writeFile(t, tt.file, tt.body)); err == nil {
				t.Error("LoadFile should fail")
			}
		})
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
