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
	"context"
	"path"
	"path/filepath"
	"strings"

	"hpc-batch/pkg/joberrors"
	"hpc-batch/pkg/logging"

	"github.com/hashicorp/go-getter"
)

// SourcesDir receives the remote inputs of an experiment.
const SourcesDir = "sources"

// IsRemote reports whether src is a go-getter source such as an http(s),
// git, s3 or gcs address rather than a local path.
func IsRemote(src string) bool {
	if src == "" {
		return false
	}
	detected, err := getter.Detect(src, string(filepath.Separator), getter.Detectors)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(detected, "file://")
}

// Fetch downloads the remote data file and template directory of the
// experiment below dir and points the experiment at the local copies.
// Local paths are left untouched.
func (e *Experiment) Fetch(ctx context.Context, dir string) error {
	pwd := filepath.Dir(e.Path)
	if src := e.Inputs.Data; IsRemote(src) {
		dst := filepath.Join(dir, "data", sourceBase(src))
		if err := fetch(ctx, src, dst, pwd, getter.ClientModeFile); err != nil {
			return err
		}
		e.Inputs.Data = dst
	}
	if src := e.Environment.TemplateDir; IsRemote(src) {
		dst := filepath.Join(dir, "templates")
		if err := fetch(ctx, src, dst, pwd, getter.ClientModeDir); err != nil {
			return err
		}
		e.Environment.TemplateDir = dst
	}
	return nil
}

func fetch(ctx context.Context, src, dst, pwd string, mode getter.ClientMode) error {
	logging.Info("Fetching %s into %s", src, dst)
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Pwd:  pwd,
		Mode: mode,
	}
	if err := client.Get(); err != nil {
		return joberrors.Configurationf("failed to fetch %s: %v", src, err)
	}
	return nil
}

// sourceBase returns the file name of a source address, without forced
// getter prefix or query.
func sourceBase(src string) string {
	if i := strings.Index(src, "::"); i >= 0 {
		src = src[i+2:]
	}
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	base := path.Base(strings.TrimSuffix(src, "/"))
	if base == "." || base == "/" || base == "" {
		return "data.tsv"
	}
	return base
}
