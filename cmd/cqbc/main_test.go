package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func runCmd(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCompileFromArgs(t *testing.T) {
	code, out, _ := runCmd(t, "", `[lemma="run"]`, `[]{0,2}`)
	if code != exitValid {
		t.Fatalf("Expected exit %d, got %d", exitValid, code)
	}

	var result struct {
		Valid bool   `json:"valid"`
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
	if !result.Valid || result.Query != `[lemma="run"] []{0,2}` {
		t.Errorf("Unexpected result %+v", result)
	}
}

func TestCompileFromStdin(t *testing.T) {
	code, out, _ := runCmd(t, "\"walk\"\n")
	if code != exitValid {
		t.Fatalf("Expected exit %d, got %d", exitValid, code)
	}
	if !strings.Contains(out, `[word=\"walk\"]`) {
		t.Errorf("Expected shorthand to expand, got %s", out)
	}
}

func TestValidateMode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantErr  string
	}{
		{"valid", `[pos="NOUN"]`, exitValid, ""},
		{"unbalanced", `[pos="NOUN"`, exitInvalid, "Every [ needs a matching ]."},
		{"empty value", `[pos=""]`, exitInvalid, "A condition has an empty value."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCmd(t, "", "-mode", "validate", tt.input)
			if code != tt.wantCode {
				t.Errorf("Expected exit %d, got %d", tt.wantCode, code)
			}
			if tt.wantErr != "" && !strings.Contains(stderr, tt.wantErr) {
				t.Errorf("Expected hint %q on stderr, got %q", tt.wantErr, stderr)
			}
		})
	}
}

func TestParseStrict(t *testing.T) {
	input := `[lemma="run"] ??? "fast"`

	code, out, _ := runCmd(t, "", "-mode", "parse", input)
	if code != exitValid {
		t.Errorf("Lenient parse: expected exit %d, got %d", exitValid, code)
	}
	var elems []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &elems); err != nil {
		t.Fatalf("Failed to decode elements: %v", err)
	}
	if len(elems) != 2 {
		t.Errorf("Expected 2 elements, got %d", len(elems))
	}

	code, _, stderr := runCmd(t, "", "-mode", "parse", "-strict", input)
	if code != exitInvalid {
		t.Errorf("Strict parse: expected exit %d, got %d", exitInvalid, code)
	}
	if !strings.Contains(stderr, "position 14") {
		t.Errorf("Expected diagnostic position on stderr, got %q", stderr)
	}
}

func TestSerializeMode(t *testing.T) {
	stdin := `[{"type": "normal", "conditionGroups": [{"logic": "OR", "conditions": [
		{"attribute": "word", "operator": "=", "value": "cat"},
		{"attribute": "word", "operator": "=", "value": "dog"}]}]},
		{"type": "alternation"},
		{"type": "unspecified"}]`

	code, out, _ := runCmd(t, stdin, "-mode", "serialize")
	if code != exitValid {
		t.Fatalf("Expected exit %d, got %d", exitValid, code)
	}
	if !strings.Contains(out, `"query": "[word=\"cat\" | word=\"dog\"] | []"`) {
		t.Errorf("Unexpected output %s", out)
	}
}

func TestSerializeModeBadInput(t *testing.T) {
	code, _, stderr := runCmd(t, `{"type": "normal"}`, "-mode", "serialize")
	if code != exitError {
		t.Errorf("Expected exit %d, got %d", exitError, code)
	}
	if !strings.Contains(stderr, "invalid element sequence") {
		t.Errorf("Unexpected stderr %q", stderr)
	}
}

func TestYAMLFormat(t *testing.T) {
	code, out, _ := runCmd(t, "", "-mode", "validate", "-format", "yaml", `[]`)
	if code != exitValid {
		t.Fatalf("Expected exit %d, got %d", exitValid, code)
	}
	if strings.TrimSpace(out) != "valid: true" {
		t.Errorf("Unexpected YAML output %q", out)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown mode", []string{"-mode", "explode", "[]"}},
		{"unknown format", []string{"-format", "xml", "[]"}},
		{"unknown flag", []string{"-nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCmd(t, "", tt.args...); code != exitError {
				t.Errorf("Expected exit %d, got %d", exitError, code)
			}
		})
	}
}
