package lesson

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schemas/*.yaml
var embeddedSchemas embed.FS

// schemaFile is the YAML layout of one content schema file.
type schemaFile struct {
	Type        string         `yaml:"type"`
	Definitions map[string]any `yaml:"definitions"`
	Schema      map[string]any `yaml:"schema"`
}

// SchemaSet holds one compiled JSON schema per step type.
type SchemaSet struct {
	schemas map[StepType]*gojsonschema.Schema
	mu      sync.RWMutex
}

// DefaultSchemas loads the schemas compiled into the binary.
func DefaultSchemas() (*SchemaSet, error) {
	sub, err := fs.Sub(embeddedSchemas, "schemas")
	if err != nil {
		return nil, fmt.Errorf("open embedded schemas: %w", err)
	}
	return LoadSchemas(sub)
}

// LoadSchemaDir loads schemas from a directory, falling back to the embedded
// defaults when dir is empty.
func LoadSchemaDir(dir string) (*SchemaSet, error) {
	if dir == "" {
		return DefaultSchemas()
	}
	if info, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("open schema dir: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("open schema dir: %s is not a directory", dir)
	}
	return LoadSchemas(os.DirFS(dir))
}

// LoadSchemas reads every *.yaml/*.yml file in fsys. Files that do not parse
// or name an unknown step type are skipped with a warning.
func LoadSchemas(fsys fs.FS) (*SchemaSet, error) {
	set := &SchemaSet{schemas: make(map[StepType]*gojsonschema.Schema)}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := path.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		return set.loadFile(fsys, p)
	})
	if err != nil {
		return nil, fmt.Errorf("loading content schemas: %w", err)
	}

	slog.Debug("content schemas loaded", "count", len(set.schemas))
	return set, nil
}

func (s *SchemaSet) loadFile(fsys fs.FS, p string) error {
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return err
	}

	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		slog.Warn("skipping invalid schema YAML", "path", p, "error", err)
		return nil
	}
	st := ParseStepType(file.Type)
	if st == StepUnknown || file.Schema == nil {
		slog.Warn("skipping schema without known type", "path", p, "type", file.Type)
		return nil
	}

	doc := file.Schema
	if len(file.Definitions) > 0 {
		doc["definitions"] = file.Definitions
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		slog.Warn("skipping uncompilable schema", "path", p, "error", err)
		return nil
	}

	s.mu.Lock()
	s.schemas[st] = compiled
	s.mu.Unlock()
	return nil
}

// Has reports whether a schema is registered for the step type.
func (s *SchemaSet) Has(t StepType) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.schemas[t]
	return ok
}

// Validate checks a parsed content value against the step type's schema.
// Types without a schema always validate.
func (s *SchemaSet) Validate(t StepType, value any) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	schema, ok := s.schemas[t]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return fmt.Errorf("validate %s content: %w", t, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid %s content: %s", t, strings.Join(msgs, "; "))
}
