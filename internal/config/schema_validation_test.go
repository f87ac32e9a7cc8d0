package config

import (
	"errors"
	"strings"
	"testing"
)

func schemaIssues(t *testing.T, body string) []SchemaIssue {
	t.Helper()
	_, err := Parse([]byte(body))
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("expected schema error, got %v", err)
	}
	return serr.Issues
}

func TestSchemaIssuesUseManifestPaths(t *testing.T) {
	issues := schemaIssues(t, "run:\n  workers: -1\n  timeout: soon\nstressors:\n  atomic:\n")
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %+v", issues)
	}
	if issues[0].Path != "run.timeout" || issues[1].Path != "run.workers" {
		t.Fatalf("expected issues ordered by path, got %+v", issues)
	}
}

func TestSchemaIssuesMissingStressors(t *testing.T) {
	issues := schemaIssues(t, "run:\n  workers: 1\n")
	if len(issues) != 1 || issues[0].Path != "manifest" || !strings.Contains(issues[0].Message, "stressors") {
		t.Fatalf("expected a manifest-level issue naming stressors, got %+v", issues)
	}
}

func TestSchemaIssuesDropEmptyEntryBranch(t *testing.T) {
	issues := schemaIssues(t, "stressors:\n  atomic:\n    bogus: 1\n")
	if len(issues) != 1 {
		t.Fatalf("expected a single issue, got %+v", issues)
	}
	if issues[0].Path != "stressors.atomic" || !strings.Contains(issues[0].Message, "bogus") {
		t.Fatalf("expected unknown field on stressors.atomic, got %+v", issues[0])
	}
}

func TestSchemaIssuesNameOptionBlock(t *testing.T) {
	issues := schemaIssues(t, "stressors:\n  dev:\n    dev:\n      threads: -1\n")
	if len(issues) != 1 {
		t.Fatalf("expected a single issue, got %+v", issues)
	}
	if issues[0].Path != "stressors.dev.dev.threads" {
		t.Fatalf("expected stressors.dev.dev.threads, got %q", issues[0].Path)
	}
	if !strings.HasPrefix(issues[0].Message, "dev options: ") {
		t.Fatalf("expected message scoped to dev options, got %q", issues[0].Message)
	}
}

func TestSchemaErrorMessage(t *testing.T) {
	err := &SchemaError{Issues: []SchemaIssue{
		{Path: "run.timeout", Message: "bad"},
		{Path: "stressors.atomic", Message: "worse"},
	}}
	want := "schema validation failed:\n  - run.timeout: bad\n  - stressors.atomic: worse"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestPointerSegmentsUnescape(t *testing.T) {
	got := pointerSegments("/stressors/a~1b/c~0d")
	if len(got) != 3 || got[1] != "a/b" || got[2] != "c~d" {
		t.Fatalf("expected unescaped segments, got %q", got)
	}
	if pointerSegments("") != nil || pointerSegments("/") != nil {
		t.Fatalf("expected no segments for the root pointer")
	}
}
