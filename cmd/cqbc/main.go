// cqbc compiles corpus queries on the command line.
//
// Usage:
//
//	cqbc [-mode compile|parse|serialize|validate] [-strict] [-format json|yaml] [query]
//
// The query is taken from the arguments, or read from stdin when none are
// given. In serialize mode the input is an element sequence in JSON.
//
// Exit status is 0 for a valid query, 1 for an invalid one and 2 for usage or
// input errors.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"corpus_dashboard/query"
)

const (
	exitValid   = 0
	exitInvalid = 1
	exitError   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command and returns its exit status.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fset := flag.NewFlagSet("cqbc", flag.ContinueOnError)
	fset.SetOutput(stderr)
	mode := fset.String("mode", "compile", "One of compile, parse, serialize, validate")
	strict := fset.Bool("strict", false, "In parse mode, fail when anything in the query was dropped")
	format := fset.String("format", "json", "Output format: json or yaml")
	if err := fset.Parse(args); err != nil {
		return exitError
	}
	if *format != "json" && *format != "yaml" {
		fmt.Fprintf(stderr, "Error: unknown format %q\n", *format)
		return exitError
	}

	input, err := readInput(fset.Args(), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading input: %v\n", err)
		return exitError
	}

	var (
		result interface{}
		status = exitValid
	)
	switch *mode {
	case "compile":
		r := query.Compile(input)
		result = r
		if !r.Valid {
			status = exitInvalid
		}
	case "parse":
		if !*strict {
			result = query.Parse(input)
			break
		}
		seq, err := query.ParseStrict(input)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			status = exitInvalid
		}
		result = seq
	case "serialize":
		var seq query.Sequence
		if err := json.Unmarshal([]byte(input), &seq); err != nil {
			fmt.Fprintf(stderr, "Error: invalid element sequence: %v\n", err)
			return exitError
		}
		q := query.Serialize(seq)
		v := query.Validate(q)
		result = struct {
			Query      string           `json:"query"`
			Validation query.Validation `json:"validation"`
		}{q, v}
		if !v.Valid {
			status = exitInvalid
		}
	case "validate":
		v := query.Validate(input)
		result = v
		if !v.Valid {
			status = exitInvalid
			if hint := v.Error.Hint(); hint != "" {
				fmt.Fprintf(stderr, "%s\n", hint)
			}
		}
	default:
		fmt.Fprintf(stderr, "Error: unknown mode %q\n", *mode)
		return exitError
	}

	if err := write(stdout, result, *format); err != nil {
		fmt.Fprintf(stderr, "Error writing output: %v\n", err)
		return exitError
	}
	return status
}

// readInput joins the positional arguments, or reads stdin when there are none.
func readInput(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// write encodes v as indented JSON, or as YAML with the same field names.
func write(w io.Writer, v interface{}, format string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	if format == "json" {
		_, err := w.Write(buf.Bytes())
		return err
	}

	var generic interface{}
	if err := json.Unmarshal(buf.Bytes(), &generic); err != nil {
		return err
	}
	ye := yaml.NewEncoder(w)
	ye.SetIndent(2)
	if err := ye.Encode(generic); err != nil {
		return err
	}
	return ye.Close()
}
