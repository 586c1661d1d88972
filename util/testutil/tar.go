/*
   Copyright The Soci Snapshotter Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package testutil

// This utility helps test codes to generate sample tar.gz blobs, the most
// common kind of multi-megabyte gzip stream.

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// TarEntry is an entry of tar.
type TarEntry interface {
	AppendTar(tw *tar.Writer, opts BuildTarOptions) error
}

// BuildTarOptions is a set of options used during building blob.
type BuildTarOptions struct {
	// Prefix is the prefix string need to be added to each file name (e.g. "./", "/", etc.)
	Prefix string

	GzipComment  string
	GzipFilename string
	GzipExtra    []byte

	// GzipFlushInterval, when positive, flushes the gzip writer after every
	// GzipFlushInterval bytes of tar data.
	GzipFlushInterval int
}

// BuildTarOption is an option used during building blob.
type BuildTarOption func(o *BuildTarOptions)

// WithPrefix is an option to add a prefix string to each file name (e.g. "./", "/", etc.)
func WithPrefix(prefix string) BuildTarOption {
	return func(o *BuildTarOptions) {
		o.Prefix = prefix
	}
}

// WithGzipComment sets the comment of the gzip header.
func WithGzipComment(comment string) BuildTarOption {
	return func(o *BuildTarOptions) {
		o.GzipComment = comment
	}
}

// WithGzipFilename sets the file name of the gzip header.
func WithGzipFilename(filename string) BuildTarOption {
	return func(o *BuildTarOptions) {
		o.GzipFilename = filename
	}
}

// WithGzipExtra sets the extra field of the gzip header.
func WithGzipExtra(extra []byte) BuildTarOption {
	return func(o *BuildTarOptions) {
		o.GzipExtra = extra
	}
}

// WithGzipFlushInterval bounds the DEFLATE blocks of the tar.gz to n bytes
// of tar data each.
func WithGzipFlushInterval(n int) BuildTarOption {
	return func(o *BuildTarOptions) {
		o.GzipFlushInterval = n
	}
}

// BuildTar builds an uncompressed tar blob from a list of tar entries.
func BuildTar(ents []TarEntry, opts ...BuildTarOption) ([]byte, error) {
	var bo BuildTarOptions
	for _, o := range opts {
		o(&bo)
	}
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, ent := range ents {
		if err := ent.AppendTar(tw, bo); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildTarGz builds a tar.gz given a list of tar entries. It returns the
// compressed blob along with the uncompressed tar.
func BuildTarGz(ents []TarEntry, compressionLevel int, opts ...BuildTarOption) (gz []byte, tarBlob []byte, err error) {
	var bo BuildTarOptions
	for _, o := range opts {
		o(&bo)
	}
	tarBlob, err = BuildTar(ents, opts...)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, compressionLevel)
	if err != nil {
		return nil, nil, err
	}
	gw.Comment = bo.GzipComment
	gw.Name = bo.GzipFilename
	gw.Extra = bo.GzipExtra
	if err := writeFlushed(gw, tarBlob, bo.GzipFlushInterval); err != nil {
		return nil, nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), tarBlob, nil
}

// WriteTempFile writes data to a new temp file in dir and returns its name.
func WriteTempFile(dir, pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return f.Name(), nil
}

type tarEntryFunc func(*tar.Writer, BuildTarOptions) error

// AppendTar appends a file to a tar writer
func (f tarEntryFunc) AppendTar(tw *tar.Writer, opts BuildTarOptions) error { return f(tw, opts) }

// Dir is a directory entry
func Dir(name string) TarEntry {
	return tarEntryFunc(func(tw *tar.Writer, buildOpts BuildTarOptions) error {
		if !strings.HasSuffix(name, "/") {
			panic(fmt.Sprintf("missing trailing slash in dir %q ", name))
		}
		return tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeDir,
			Name:     buildOpts.Prefix + name,
			Mode:     0755,
		})
	})
}

// FileBuildTarOption is an option for a file entry.
type FileBuildTarOption func(o *fileOpts)

type fileOpts struct {
	mode    int64
	modTime time.Time
}

// WithFileModTime specifies the modtime of the file.
func WithFileModTime(modTime time.Time) FileBuildTarOption {
	return func(o *fileOpts) {
		o.modTime = modTime
	}
}

// WithFileMode specifies the permission bits of the file.
func WithFileMode(mode os.FileMode) FileBuildTarOption {
	return func(o *fileOpts) {
		o.mode = int64(mode & os.ModePerm)
	}
}

// File is a regular file entry
func File(name, contents string, opts ...FileBuildTarOption) TarEntry {
	return tarEntryFunc(func(tw *tar.Writer, buildOpts BuildTarOptions) error {
		fOpts := fileOpts{mode: 0644}
		for _, o := range opts {
			o(&fOpts)
		}
		if strings.HasSuffix(name, "/") {
			return fmt.Errorf("bogus trailing slash in file %q", name)
		}
		if err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     buildOpts.Prefix + name,
			Mode:     fOpts.mode,
			ModTime:  fOpts.modTime,
			Size:     int64(len(contents)),
		}); err != nil {
			return err
		}
		_, err := io.WriteString(tw, contents)
		return err
	})
}
