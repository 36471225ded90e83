// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package batchtemplate loads and renders the scheduler batch scripts and
// multi-task drivers.
//
// A default template set is embedded in the binary. Files placed in an
// override directory with the same name take precedence. Every template is
// parsed and its placeholders checked when the set is loaded, so a broken
// override is reported before any job is generated.
package batchtemplate

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"reflect"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"

	"hpc-batch/pkg/joberrors"

	"github.com/spf13/afero"
)

//go:embed templates
var embedded embed.FS

// Template and static file names.
const (
	SlurmBatch    = "slurm_batch.tmpl"
	PbsBatch      = "pbs_batch.tmpl"
	CCCBatch      = "ccc_batch.tmpl"
	CCCMultiBatch = "ccc_multi_batch.tmpl"
	PoolDriver    = "pool_driver.tmpl"
	OneshotDriver = "oneshot_driver.tmpl"
	// Worker is copied verbatim next to the job, it is not rendered.
	Worker = "worker.sh"
)

// required lists the placeholders each template must reference.
var required = map[string][]string{
	SlurmBatch:    {"Command", "Stdout", "Stderr"},
	PbsBatch:      {"Command", "Stdout", "Stderr"},
	CCCBatch:      {"Command", "Stdout", "Stderr"},
	CCCMultiBatch: {"Command", "Stdout", "Stderr", "LogDir"},
	PoolDriver:    {"Commands", "LogDir", "NJobs"},
	OneshotDriver: {"Commands", "LogDir"},
}

// Fields is the data every template is rendered with. Memory is in
// megabytes and Walltime in the unit of the target scheduler.
type Fields struct {
	Command    string
	Stdout     string
	Stderr     string
	Name       string
	Queue      string
	Memory     int
	Walltime   int
	NCPUs      int
	NGPUs      int
	NMultiCPUs int
	Modules    string
	Image      string
	ProjectID  string

	// Multi-task extras.
	LogDir     string
	WorkerFile string
	NJobs      int
	Commands   []string
}

var placeholders = fieldNames(reflect.TypeOf(Fields{}))

var funcs = template.FuncMap{
	"shquote": ShellQuote,
}

// Set is a loaded and validated template set.
type Set struct {
	templates map[string]*template.Template
	static    map[string][]byte
}

// Load reads the embedded defaults overlaid with overrideDir. An empty
// overrideDir uses the defaults only.
func Load(overrideDir string) (*Set, error) {
	if overrideDir == "" {
		return New(nil)
	}
	return New(afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), overrideDir)))
}

// New builds a set from the embedded defaults with override layered on top.
// override may be nil.
func New(override afero.Fs) (*Set, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, joberrors.WrapTemplate(err, "open embedded templates")
	}
	var fsys afero.Fs = afero.FromIOFS{FS: sub}
	if override != nil {
		fsys = afero.NewCopyOnWriteFs(fsys, override)
	}

	s := &Set{
		templates: make(map[string]*template.Template, len(required)),
		static:    map[string][]byte{},
	}
	for name := range required {
		tmpl, err := parseTemplate(fsys, name)
		if err != nil {
			return nil, err
		}
		s.templates[name] = tmpl
	}
	worker, err := afero.ReadFile(fsys, Worker)
	if err != nil {
		return nil, joberrors.WrapTemplate(err, "read %s", Worker)
	}
	s.static[Worker] = worker
	return s, nil
}

// Render executes the named template with data.
func (s *Set) Render(name string, data Fields) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", joberrors.Templatef("unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", joberrors.WrapTemplate(err, "render %s", name)
	}
	return buf.String(), nil
}

// Static returns the content of a file copied verbatim.
func (s *Set) Static(name string) ([]byte, error) {
	b, ok := s.static[name]
	if !ok {
		return nil, joberrors.Templatef("unknown static file %q", name)
	}
	return b, nil
}

// Names lists the templates in the set.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.templates))
	for n := range s.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func parseTemplate(fsys afero.Fs, name string) (*template.Template, error) {
	content, err := afero.ReadFile(fsys, name)
	if err != nil {
		return nil, joberrors.WrapTemplate(err, "read %s", name)
	}
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, joberrors.WrapTemplate(err, "parse %s", name)
	}
	if err := validate(tmpl, required[name]); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// validate rejects placeholders Fields does not provide and reports the
// required ones the template never references.
func validate(tmpl *template.Template, want []string) error {
	seen := map[string]bool{}
	for _, t := range tmpl.Templates() {
		if t.Tree == nil {
			continue
		}
		collectFields(t.Tree.Root, seen)
	}

	var unknown, missing []string
	for f := range seen {
		if !placeholders[f] {
			unknown = append(unknown, f)
		}
	}
	for _, f := range want {
		if !seen[f] {
			missing = append(missing, f)
		}
	}
	sort.Strings(unknown)
	switch {
	case len(unknown) > 0:
		return joberrors.Templatef("%s: unknown placeholders %s", tmpl.Name(), strings.Join(unknown, ", "))
	case len(missing) > 0:
		return joberrors.Templatef("%s: missing placeholders %s", tmpl.Name(), strings.Join(missing, ", "))
	}
	return nil
}

// collectFields records the first identifier of every .Field reference.
// References inside range and with blocks are skipped since dot is rebound there.
func collectFields(node parse.Node, seen map[string]bool) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			collectFields(c, seen)
		}
	case *parse.ActionNode:
		collectFields(n.Pipe, seen)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, c := range n.Cmds {
			collectFields(c, seen)
		}
	case *parse.CommandNode:
		for _, a := range n.Args {
			collectFields(a, seen)
		}
	case *parse.FieldNode:
		seen[n.Ident[0]] = true
	case *parse.ChainNode:
		collectFields(n.Node, seen)
	case *parse.IfNode:
		collectFields(n.Pipe, seen)
		collectFields(n.List, seen)
		collectFields(n.ElseList, seen)
	case *parse.RangeNode:
		collectFields(n.Pipe, seen)
		collectFields(n.ElseList, seen)
	case *parse.WithNode:
		collectFields(n.Pipe, seen)
		collectFields(n.ElseList, seen)
	case *parse.TemplateNode:
		collectFields(n.Pipe, seen)
	}
}

func fieldNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		names[t.Field(i).Name] = true
	}
	return names
}

// ShellQuote wraps s in single quotes for bash.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// String implements fmt.Stringer for logs.
func (s *Set) String() string {
	return fmt.Sprintf("TemplateSet<%s>", strings.Join(s.Names(), ","))
}
