package sandbox

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// LanguageSpec describes how to compile and run one language inside
// its container image. The compile command is executed directly as an
// argv, without a shell; the run command goes through a shell so the
// test input can be redirected to stdin.
type LanguageSpec struct {
	Name       string `yaml:"name"`
	Image      string `yaml:"image"`
	SourceFile string `yaml:"sourceFile"`
	CompileCmd string `yaml:"compileCmd"` // empty for interpreted languages
	RunCmd     string `yaml:"runCmd"`

	// MemoryHeadroom scales the container memory limit above the problem
	// limit. Runtimes with a managed heap (JVM) need room beyond what the
	// submission itself may use; the verdict still checks the problem limit.
	MemoryHeadroom float64 `yaml:"memoryHeadroom"`
}

// ContainerMemoryBytes returns the container limit for a problem limit in KB.
func (s LanguageSpec) ContainerMemoryBytes(limitKB int64) int64 {
	headroom := s.MemoryHeadroom
	if headroom < 1 {
		headroom = 1
	}
	return int64(float64(limitKB*1024) * headroom)
}

// CompileArgs splits the compile command into argv form.
func (s LanguageSpec) CompileArgs() ([]string, error) {
	return shlex.Split(s.CompileCmd)
}

// Registry holds the supported language table.
type Registry struct {
	specs map[string]LanguageSpec
}

// DefaultRegistry returns the built-in language table.
func DefaultRegistry() *Registry {
	return newRegistry([]LanguageSpec{
		{
			Name:       "go",
			Image:      "golang:1.22-alpine",
			SourceFile: "Main.go",
			// the build cache must live on the scratch mount, the rootfs
			// is read-only
			CompileCmd: "env HOME=/tmp GOCACHE=/tmp/go-build go build -o main Main.go",
			RunCmd:     "./main",
		},
		{
			Name:       "cpp",
			Image:      "gcc:13",
			SourceFile: "Main.cpp",
			CompileCmd: "g++ -O2 -std=c++17 -o main Main.cpp",
			RunCmd:     "./main",
		},
		{
			Name:           "java",
			Image:          "openjdk:17-slim",
			SourceFile:     "Main.java",
			CompileCmd:     "javac Main.java",
			RunCmd:         "java -cp . Main",
			MemoryHeadroom: 2,
		},
		{
			Name:       "python",
			Image:      "python:3.11-alpine",
			SourceFile: "Main.py",
			RunCmd:     "python3 Main.py",
		},
	})
}

// LoadRegistry reads a language table from a yaml file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language config: %w", err)
	}
	var specs []LanguageSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse language config: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("language config is empty")
	}
	for _, spec := range specs {
		if err := validateSpec(spec); err != nil {
			return nil, err
		}
	}
	return newRegistry(specs), nil
}

func newRegistry(specs []LanguageSpec) *Registry {
	table := make(map[string]LanguageSpec, len(specs))
	for _, spec := range specs {
		table[spec.Name] = spec
	}
	return &Registry{specs: table}
}

func validateSpec(spec LanguageSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("language name is required")
	}
	if spec.Image == "" {
		return fmt.Errorf("language %q: image is required", spec.Name)
	}
	if spec.SourceFile == "" {
		return fmt.Errorf("language %q: sourceFile is required", spec.Name)
	}
	if spec.RunCmd == "" {
		return fmt.Errorf("language %q: runCmd is required", spec.Name)
	}
	if _, err := shlex.Split(spec.RunCmd); err != nil {
		return fmt.Errorf("language %q: invalid runCmd: %w", spec.Name, err)
	}
	if spec.CompileCmd != "" {
		if _, err := shlex.Split(spec.CompileCmd); err != nil {
			return fmt.Errorf("language %q: invalid compileCmd: %w", spec.Name, err)
		}
	}
	return nil
}

// Lookup returns the spec for a language name.
func (r *Registry) Lookup(name string) (LanguageSpec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Languages returns the supported language names, sorted.
func (r *Registry) Languages() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
