package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	thrashschema "github.com/Paintersrp/thrash/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaResource = "run.v1.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaResource, bytes.NewReader(thrashschema.RunV1Schema)); err != nil {
		return nil, fmt.Errorf("add run schema: %w", err)
	}
	schema, err := compiler.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("compile run schema: %w", err)
	}
	return schema, nil
})

// optionBlocks are the per-stressor option sections of a stressor entry.
var optionBlocks = map[string]bool{"atomic": true, "dev": true, "cgroup": true}

// SchemaIssue is one schema violation, located with the same dotted paths
// Validate uses (run.timeout, stressors.dev.dev.threads).
type SchemaIssue struct {
	Path    string
	Message string
}

// SchemaError lists every violation found in a manifest, ordered by path.
type SchemaError struct {
	Issues []SchemaIssue
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema validation failed:")
	for _, issue := range e.Issues {
		fmt.Fprintf(&b, "\n  - %s: %s", issue.Path, issue.Message)
	}
	return b.String()
}

// checkSchema validates the raw decoded manifest against the embedded schema.
func checkSchema(raw map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	doc, err := jsonValue(raw)
	if err != nil {
		return fmt.Errorf("prepare manifest for schema check: %w", err)
	}
	err = schema.Validate(doc)
	var verr *jsonschema.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &verr):
		return &SchemaError{Issues: collectIssues(verr)}
	default:
		return fmt.Errorf("schema validation failed: %w", err)
	}
}

// jsonValue converts YAML-decoded values into the shapes encoding/json
// produces, keeping numbers exact.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// collectIssues flattens the error tree to its leaves. Failures of the null
// branch that lets a stressor entry be empty are dropped: they only restate
// that the entry is an object.
func collectIssues(root *jsonschema.ValidationError) []SchemaIssue {
	seen := make(map[SchemaIssue]bool)
	var issues []SchemaIssue
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, cause := range e.Causes {
				walk(cause)
			}
			return
		}
		if strings.HasSuffix(e.KeywordLocation, "/anyOf/0/type") {
			return
		}
		issue := manifestIssue(pointerSegments(e.InstanceLocation), e.Message)
		if !seen[issue] {
			seen[issue] = true
			issues = append(issues, issue)
		}
	}
	walk(root)
	if len(issues) == 0 {
		issues = append(issues, manifestIssue(pointerSegments(root.InstanceLocation), root.Message))
	}
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
	return issues
}

func manifestIssue(segments []string, message string) SchemaIssue {
	if len(segments) == 0 {
		return SchemaIssue{Path: "manifest", Message: message}
	}
	if segments[0] != "stressors" || len(segments) < 2 {
		return SchemaIssue{Path: fieldPath(segments...), Message: message}
	}
	name, rest := segments[1], segments[2:]
	if len(rest) > 0 && optionBlocks[rest[0]] {
		message = fmt.Sprintf("%s options: %s", rest[0], message)
	}
	return SchemaIssue{Path: stressorField(name, rest...), Message: message}
}

// pointerSegments splits a JSON pointer into unescaped segments.
func pointerSegments(ptr string) []string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return nil
	}
	parts := strings.Split(ptr, "/")
	for i, part := range parts {
		parts[i] = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
	}
	return parts
}
