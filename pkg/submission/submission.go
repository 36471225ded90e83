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

// Package submission describes a single runnable command before it is
// wrapped into a scheduler batch script.
package submission

import (
	"fmt"
	"strings"

	"hpc-batch/pkg/joberrors"
)

// NamedArg is a named script argument, rendered as "-<Name> <Value>".
type NamedArg struct {
	Name  string
	Value any
}

// Spec holds the script, its arguments and the parameters passed to the
// container runtime.
type Spec struct {
	Script              string
	Args                []any
	Named               []NamedArg
	ExecutionParameters string
}

// Build creates a Spec. Named arguments keep the order they are given in.
func Build(script string, args []any, named []NamedArg, executionParameters string) (Spec, error) {
	if strings.TrimSpace(script) == "" {
		return Spec{}, joberrors.Configurationf("submission script must not be empty")
	}
	return Spec{
		Script:              script,
		Args:                append([]any(nil), args...),
		Named:               append([]NamedArg(nil), named...),
		ExecutionParameters: executionParameters,
	}, nil
}

// MustBuild is like Build but panics on error. For literals in tests and examples.
func MustBuild(script string, args ...any) Spec {
	s, err := Build(script, args, nil, "")
	if err != nil {
		panic(err)
	}
	return s
}

// Named builds an ordered NamedArg list from alternating name/value pairs.
// A trailing name without a value is ignored.
func Named(kv ...any) []NamedArg {
	named := make([]NamedArg, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		named = append(named, NamedArg{Name: fmt.Sprint(kv[i]), Value: kv[i+1]})
	}
	return named
}

// Command returns the command line: script, positional arguments in order,
// then each named argument in insertion order.
func (s Spec) Command() string {
	parts := make([]string, 0, 1+len(s.Args)+len(s.Named))
	parts = append(parts, s.Script)
	for _, a := range s.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	for _, n := range s.Named {
		parts = append(parts, fmt.Sprintf("-%s %v", n.Name, n.Value))
	}
	return strings.Join(parts, " ")
}

func (s Spec) String() string {
	return fmt.Sprintf("Spec<command=%q execution_parameters=%q>", s.Command(), s.ExecutionParameters)
}
