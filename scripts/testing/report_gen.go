// Copyright 2026 The AgencyDesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command report_gen merges `go test -json` output with the annotation
// comments above each test function and writes JSON and Markdown reports.
//
//	go test -json ./... > test.json
//	go run ./scripts/testing -input test.json -out-json report.json -out-md report.md
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"text/template"
	"time"

	"golang.org/x/mod/modfile"
)

// Annotations are the structured comment lines above a test function.
type Annotations struct {
	Purpose    string `json:"purpose,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Security   string `json:"security,omitempty"`
	Expected   string `json:"expected,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Area       string `json:"area"`
}

// Result is the outcome of one test.
type Result struct {
	Package     string      `json:"package"`
	Name        string      `json:"name"`
	Status      string      `json:"status"`
	Elapsed     float64     `json:"elapsed_seconds"`
	Output      string      `json:"output,omitempty"`
	Annotations Annotations `json:"annotations"`
}

// Report is the full report document.
type Report struct {
	Title       string    `json:"title"`
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	NotRun      int       `json:"not_run"`
	Results     []Result  `json:"results"`
}

type testEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
	Output  string  `json:"Output"`
}

// areas maps a test case ID prefix to a report section.
var areas = map[string]string{
	"AUT":  "Policy Engine",
	"INV":  "Invitations",
	"GTW":  "Data Gateway",
	"PRP":  "Data Gateway",
	"AGY":  "Agencies",
	"IDN":  "Identity",
	"SES":  "Sessions",
	"HTTP": "HTTP API",
	"DB":   "Storage",
	"ISO":  "Storage",
	"AUD":  "Audit",
	"ERR":  "Platform",
	"CFG":  "Platform",
	"ID":   "Platform",
	"RTY":  "Platform",
	"LOG":  "Platform",
	"MET":  "Platform",
	"TRC":  "Platform",
}

var areaOrder = []string{
	"Policy Engine", "Invitations", "Data Gateway", "Agencies",
	"Identity", "Sessions", "HTTP API", "Storage", "Audit", "Platform", "Other",
}

func main() {
	input := flag.String("input", "", "go test -json output file")
	outJSON := flag.String("out-json", "", "JSON report path")
	outMD := flag.String("out-md", "", "Markdown report path")
	title := flag.String("title", "AgencyDesk Test Report", "report title")
	area := flag.String("area", "", "only include this area")
	flag.Parse()

	if *input == "" || (*outJSON == "" && *outMD == "") {
		flag.Usage()
		os.Exit(2)
	}

	report, err := build(*input, *title, *area)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *outJSON != "" {
		if err := writeJSON(report, *outJSON); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *outMD != "" {
		if err := writeMarkdown(report, *outMD); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if report.Failed > 0 {
		fmt.Printf("%d of %d tests failed\n", report.Failed, report.Total)
		os.Exit(1)
	}
}

func build(input, title, onlyArea string) (*Report, error) {
	module, err := modulePath("go.mod")
	if err != nil {
		return nil, err
	}
	annotated, err := scanAnnotations(".", module)
	if err != nil {
		return nil, err
	}
	results, err := readEvents(input, annotated)
	if err != nil {
		return nil, err
	}

	report := &Report{Title: title, GeneratedAt: time.Now().UTC()}
	for _, r := range results {
		if onlyArea != "" && !strings.EqualFold(r.Annotations.Area, onlyArea) {
			continue
		}
		report.Results = append(report.Results, r)
		report.Total++
		switch r.Status {
		case "pass":
			report.Passed++
		case "fail":
			report.Failed++
		case "skip":
			report.Skipped++
		default:
			report.NotRun++
		}
	}
	slices.SortFunc(report.Results, func(a, b Result) int {
		if c := strings.Compare(a.Annotations.TestCaseID, b.Annotations.TestCaseID); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return report, nil
}

func modulePath(goMod string) (string, error) {
	data, err := os.ReadFile(goMod)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", goMod, err)
	}
	mod := modfile.ModulePath(data)
	if mod == "" {
		return "", fmt.Errorf("no module directive in %s", goMod)
	}
	return mod, nil
}

// scanAnnotations indexes every annotated top-level test by package and name.
func scanAnnotations(root, module string) (map[string]Result, error) {
	out := make(map[string]Result)
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if p != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, "_test.go") {
			return nil
		}

		file, err := parser.ParseFile(fset, p, nil, parser.ParseComments)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", p, err)
		}
		pkg := path.Join(module, filepath.ToSlash(filepath.Dir(p)))
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !strings.HasPrefix(fn.Name.Name, "Test") {
				continue
			}
			ann := parseAnnotations(fn.Doc)
			out[pkg+"."+fn.Name.Name] = Result{
				Package:     pkg,
				Name:        fn.Name.Name,
				Status:      "not run",
				Annotations: ann,
			}
		}
		return nil
	})
	return out, err
}

func parseAnnotations(doc *ast.CommentGroup) Annotations {
	var a Annotations
	if doc != nil {
		for _, c := range doc.List {
			line := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch key {
			case "TestPurpose":
				a.Purpose = value
			case "Scope":
				a.Scope = value
			case "Security":
				a.Security = value
			case "Expected":
				a.Expected = value
			case "Test Case ID":
				a.TestCaseID = value
			}
		}
	}
	a.Area = areaFor(a.TestCaseID)
	return a
}

func areaFor(caseID string) string {
	prefix, _, _ := strings.Cut(caseID, "-")
	if area, ok := areas[prefix]; ok {
		return area
	}
	return "Other"
}

// readEvents folds go test -json events into per-test results. Subtests
// inherit the annotations of their parent.
func readEvents(input string, annotated map[string]Result) ([]Result, error) {
	f, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("failed to open test output: %w", err)
	}
	defer f.Close()

	results := make(map[string]*Result, len(annotated))
	for key, r := range annotated {
		r := r
		results[key] = &r
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev testEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil || ev.Test == "" {
			continue
		}

		key := ev.Package + "." + ev.Test
		res, ok := results[key]
		if !ok {
			parent, _, _ := strings.Cut(ev.Test, "/")
			ann := Annotations{Area: "Other"}
			if p, found := results[ev.Package+"."+parent]; found {
				ann = p.Annotations
			}
			res = &Result{Package: ev.Package, Name: ev.Test, Status: "not run", Annotations: ann}
			results[key] = res
		}

		switch ev.Action {
		case "pass", "fail", "skip":
			res.Status = ev.Action
			res.Elapsed = ev.Elapsed
		case "output":
			res.Output += ev.Output
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test output: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Status != "fail" {
			r.Output = ""
		}
		out = append(out, *r)
	}
	return out, nil
}

func writeJSON(report *Report, dst string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(dst, data)
}

var markdown = template.Must(template.New("report").Funcs(template.FuncMap{
	"icon": func(status string) string {
		switch status {
		case "pass":
			return "PASS"
		case "fail":
			return "FAIL"
		case "skip":
			return "SKIP"
		}
		return "-"
	},
	"cell": func(s string) string { return strings.ReplaceAll(s, "|", `\|`) },
}).Parse(`# {{.Report.Title}}

Generated {{.Report.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}

| Total | Passed | Failed | Skipped | Not run |
|-------|--------|--------|---------|---------|
| {{.Report.Total}} | {{.Report.Passed}} | {{.Report.Failed}} | {{.Report.Skipped}} | {{.Report.NotRun}} |
{{range .Sections}}
## {{.Area}}

| ID | Test | Status | Purpose | Security |
|----|------|--------|---------|----------|
{{range .Results}}| {{.Annotations.TestCaseID}} | {{.Name}} | {{icon .Status}} | {{cell .Annotations.Purpose}} | {{cell .Annotations.Security}} |
{{end}}{{end}}{{if .Failures}}
## Failures
{{range .Failures}}
### {{.Name}} ({{.Package}})

` + "```" + `
{{.Output}}` + "```" + `
{{end}}{{end}}`))

type section struct {
	Area    string
	Results []Result
}

func writeMarkdown(report *Report, dst string) error {
	byArea := make(map[string][]Result)
	var failures []Result
	for _, r := range report.Results {
		byArea[r.Annotations.Area] = append(byArea[r.Annotations.Area], r)
		if r.Status == "fail" {
			failures = append(failures, r)
		}
	}
	var sections []section
	for _, area := range areaOrder {
		if rs := byArea[area]; len(rs) > 0 {
			sections = append(sections, section{Area: area, Results: rs})
		}
	}

	var sb strings.Builder
	err := markdown.Execute(&sb, map[string]any{
		"Report":   report,
		"Sections": sections,
		"Failures": failures,
	})
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return writeFile(dst, []byte(sb.String()))
}

func writeFile(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
