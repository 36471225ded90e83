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

package config

import (
	"encoding/csv"
	"io"
	"regexp"
	"strings"

	"hpc-batch/pkg/joberrors"

	"github.com/spf13/afero"
)

// Row maps the column names of a data file to the values of one line.
type Row map[string]string

// ReadTSV reads a tab separated file whose first line holds the column names.
func ReadTSV(fsys afero.Fs, path string) ([]Row, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, joberrors.Configurationf("failed to open data file %s: %v", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.LazyQuotes = true
	header, err := r.Read()
	if err == io.EOF {
		return nil, joberrors.Configurationf("data file %s is empty", path)
	}
	if err != nil {
		return nil, joberrors.Configurationf("failed to read %s: %v", path, err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	var rows []Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, joberrors.Configurationf("failed to read %s: %v", path, err)
		}
		row := make(Row, len(header))
		for i, h := range header {
			row[h] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var placeholder = regexp.MustCompile(`\{\{|\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand renders tmpl once per row, replacing every {column} with the value
// of that column. "{{" and "}}" stand for literal braces.
func Expand(tmpl string, rows []Row) ([]string, error) {
	commands := make([]string, 0, len(rows))
	for i, row := range rows {
		var missing string
		cmd := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
			switch m {
			case "{{":
				return "{"
			case "}}":
				return "}"
			}
			key := m[1 : len(m)-1]
			v, ok := row[key]
			if !ok && missing == "" {
				missing = key
			}
			return v
		})
		if missing != "" {
			return nil, joberrors.Configurationf("row %d: no column %q for placeholder in %q", i+1, missing, tmpl)
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}
