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

// Package imagebuilder makes container images available on the vendor
// image hub before jobs referencing them are submitted.
package imagebuilder

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"hpc-batch/pkg/joberrors"
	"hpc-batch/pkg/shell"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const pcocc = "pcocc-rs"

// Image is a container image as referenced by a job.
type Image struct {
	// Name is the name on the hub.
	Name string
	// Archive is the local docker archive the image can be imported from,
	// empty when the image is referenced by name only.
	Archive string
}

// Resolve interprets image as a local docker archive when such a file
// exists, and as a hub image name otherwise. The name of an archive is its
// base name up to the first dot.
func Resolve(fsys afero.Fs, image string) Image {
	if ok, _ := afero.Exists(fsys, image); ok {
		if dir, _ := afero.IsDir(fsys, image); !dir {
			base := filepath.Base(image)
			return Image{Name: strings.SplitN(base, ".", 2)[0], Archive: image}
		}
	}
	return Image{Name: image}
}

// Stager imports docker archives into a pcocc hub.
type Stager struct {
	Runner shell.Runner
	Fs     afero.Fs
	Hub    string
}

// NewStager creates a stager for hub.
func NewStager(runner shell.Runner, fsys afero.Fs, hub string) *Stager {
	return &Stager{Runner: runner, Fs: fsys, Hub: hub}
}

// Stage makes image available on the hub, importing its archive when the
// hub does not list it yet.
func (s *Stager) Stage(ctx context.Context, image string) error {
	img := Resolve(s.Fs, image)
	available, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, n := range available {
		if n == img.Name {
			logrus.Debugf("Image %s already available on %s", img.Name, s.Hub)
			return nil
		}
	}
	if img.Archive == "" {
		return joberrors.ImageImportf("'%s' image not available on %s, provide the image archive", img.Name, s.Hub)
	}
	if err := s.checkArchive(img.Archive); err != nil {
		return err
	}

	logrus.Infof("Importing %s into %s:%s", img.Archive, s.Hub, img.Name)
	res := s.Runner.Run(ctx, pcocc, "image", "import",
		"docker-archive:"+img.Archive, fmt.Sprintf("%s:%s", s.Hub, img.Name))
	if res.Failed() {
		return joberrors.WrapImageImport(res.Err, "%s image import exited %d: %s", pcocc, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// List returns the image names available on the hub.
func (s *Stager) List(ctx context.Context) ([]string, error) {
	res := s.Runner.Run(ctx, pcocc, "image", "list", "-r", s.Hub)
	if res.Failed() {
		return nil, joberrors.WrapImageImport(res.Err, "%s image list exited %d: %s", pcocc, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return ReadIndex(res.Stdout), nil
}

// ReadIndex parses the table printed by "pcocc-rs image list": two header
// lines, one image per line, two footer lines.
func ReadIndex(out string) []string {
	lines := strings.Split(out, "\n")
	if len(lines) <= 4 {
		return nil
	}
	var names []string
	for _, l := range lines[2 : len(lines)-2] {
		fields := strings.Fields(l)
		if len(fields) == 0 {
			continue
		}
		names = append(names, fields[0])
	}
	return names
}

// checkArchive verifies that path is a readable docker archive.
func (s *Stager) checkArchive(path string) error {
	manifest, err := tarball.LoadManifest(func() (io.ReadCloser, error) {
		return s.Fs.Open(path)
	})
	if err != nil {
		return joberrors.WrapImageImport(err, "invalid docker archive %s", path)
	}
	if len(manifest) == 0 {
		return joberrors.ImageImportf("docker archive %s holds no image", path)
	}
	for _, tag := range manifest[0].RepoTags {
		t, err := name.NewTag(tag)
		if err != nil {
			logrus.Warnf("Ignoring malformed tag %q in %s: %v", tag, path, err)
			continue
		}
		logrus.Debugf("Archive %s provides %s", path, t.Context().RepositoryStr())
	}
	return nil
}
