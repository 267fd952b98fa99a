package config

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	groupschema "github.com/Paintersrp/procgroup/schema"
)

// ErrSchema wraps every manifest rejected by the group schema.
var ErrSchema = errors.New("manifest does not match schema")

// FieldError is a single schema violation.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

const groupSchemaURL = "group.v1.json"

var compiledGroupSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(groupSchemaURL, bytes.NewReader(groupschema.GroupV1Schema)); err != nil {
		return nil, fmt.Errorf("add group schema: %w", err)
	}
	schema, err := compiler.Compile(groupSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile group schema: %w", err)
	}
	return schema, nil
})

// validateAgainstSchema checks the generic YAML document before it is decoded
// into Group. Each leaf violation becomes one FieldError.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := compiledGroupSchema()
	if err != nil {
		return err
	}
	instance, err := jsonInstance(doc)
	if err != nil {
		return fmt.Errorf("prepare manifest for schema validation: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}

	violations := collectViolations(verr, nil)
	slices.SortStableFunc(violations, func(a, b FieldError) int {
		return cmp.Compare(a.Field, b.Field)
	})
	violations = slices.Compact(violations)

	errs := make([]error, len(violations))
	for i, v := range violations {
		errs[i] = v
	}
	return fmt.Errorf("%w:\n%w", ErrSchema, errors.Join(errs...))
}

// jsonInstance round-trips doc through encoding/json so numbers and maps have
// the shapes the validator expects.
func jsonInstance(doc map[string]any) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func collectViolations(err *jsonschema.ValidationError, out []FieldError) []FieldError {
	if len(err.Causes) == 0 {
		return append(out, FieldError{Field: pointerField(err.InstanceLocation), Message: err.Message})
	}
	for _, cause := range err.Causes {
		out = collectViolations(cause, out)
	}
	return out
}

// pointerField renders a JSON pointer such as /workers/0/type as
// workers[0].type, the notation used by Validate.
func pointerField(ptr string) string {
	var parts []string
	for _, segment := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if segment == "" {
			continue
		}
		segment = strings.NewReplacer("~1", "/", "~0", "~").Replace(segment)
		if _, err := strconv.Atoi(segment); err == nil && len(parts) > 0 {
			parts[len(parts)-1] += "[" + segment + "]"
			continue
		}
		parts = append(parts, segment)
	}
	if len(parts) == 0 {
		return "manifest"
	}
	return fieldPath(parts...)
}
