package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	for _, name := range []string{"go", "cpp", "java", "python"} {
		spec, ok := reg.Lookup(name)
		if !ok {
			t.Fatalf("missing language %q", name)
		}
		if spec.Image == "" || spec.RunCmd == "" {
			t.Fatalf("incomplete spec for %q: %+v", name, spec)
		}
	}
	if _, ok := reg.Lookup("brainfuck"); ok {
		t.Fatalf("unexpected language")
	}

	names := reg.Languages()
	want := []string{"cpp", "go", "java", "python"}
	if len(names) != len(want) {
		t.Fatalf("Languages() = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Languages() = %v, want %v", names, want)
		}
	}
}

func TestContainerMemoryBytes(t *testing.T) {
	plain := LanguageSpec{Name: "go"}
	if got := plain.ContainerMemoryBytes(1024); got != 1024*1024 {
		t.Fatalf("ContainerMemoryBytes = %d, want %d", got, 1024*1024)
	}

	jvm := LanguageSpec{Name: "java", MemoryHeadroom: 2}
	if got := jvm.ContainerMemoryBytes(1024); got != 2*1024*1024 {
		t.Fatalf("ContainerMemoryBytes with headroom = %d, want %d", got, 2*1024*1024)
	}
}

func TestCompileArgsSplitsQuotedCommand(t *testing.T) {
	spec := LanguageSpec{CompileCmd: `gcc -o main -D 'NAME="judge"' main.c`}
	args, err := spec.CompileArgs()
	if err != nil {
		t.Fatalf("CompileArgs: %v", err)
	}
	if len(args) != 6 || args[4] != `NAME="judge"` {
		t.Fatalf("args = %v", args)
	}
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.yaml")
	content := `
- name: go
  image: golang:1.22-alpine
  sourceFile: Main.go
  compileCmd: "go build -o main Main.go"
  runCmd: "./main"
- name: lua
  image: nickblah/lua:5.4-alpine
  sourceFile: main.lua
  runCmd: "lua main.lua"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if _, ok := reg.Lookup("lua"); !ok {
		t.Fatalf("configured language missing")
	}
	spec, _ := reg.Lookup("go")
	if spec.CompileCmd == "" {
		t.Fatalf("compile command lost: %+v", spec)
	}
}

func TestLoadRegistryRejectsIncompleteSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.yaml")
	content := `
- name: go
  image: golang:1.22-alpine
  sourceFile: Main.go
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadRegistry(path); err == nil {
		t.Fatalf("expected error for spec without runCmd")
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
