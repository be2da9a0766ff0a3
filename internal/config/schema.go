package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// CheckFile validates the raw YAML file at path against the embedded CUE
// schema. Unlike Load it sees the file alone, so unknown keys and type
// mismatches are reported before defaults or env could mask them.
func CheckFile(path string) ([]ValidationError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Check(data)
}

// Check validates YAML config data against the embedded CUE schema.
// A non-nil error means the schema or data could not be evaluated at all.
func Check(data []byte) ([]ValidationError, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []ValidationError{{Field: "yaml", Message: err.Error()}}, nil
	}
	if doc == nil {
		doc = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	err := def.Unify(value).Validate(cue.Concrete(true))
	if err == nil {
		return nil, nil
	}

	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, ValidationError{
			Field:   schemaPath(e.Path()),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return out, nil
}

// schemaPath drops the definition name from a CUE error path.
func schemaPath(path []string) string {
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	if len(path) == 0 {
		return "config"
	}
	return strings.Join(path, ".")
}
