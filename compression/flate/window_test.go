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

package flate

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWindowCopyBackOverlap(t *testing.T) {
	type copyOp struct {
		dist, length int
	}
	tests := []struct {
		name     string
		literals string
		copies   []copyOp
		expected string
	}{
		{
			name:     "run of last byte",
			literals: "abc",
			copies:   []copyOp{{1, 3}, {4, 6}},
			expected: "abcccccccccc",
		},
		{
			name:     "repeating pattern",
			literals: "abcdef",
			copies:   []copyOp{{4, 6}},
			expected: "abcdefcdefcd",
		},
		{
			name:     "single byte",
			literals: "X",
			copies:   []copyOp{{1, 5}},
			expected: "XXXXXX",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var w window
			w.init(nil)
			for _, c := range []byte(tc.literals) {
				w.pushLiteral(c)
			}
			for _, op := range tc.copies {
				n, err := w.copyBack(op.dist, op.length)
				if err != nil {
					t.Fatal(err)
				}
				if n != op.length {
					t.Fatalf("copied %d bytes, expected %d", n, op.length)
				}
			}
			if diff := cmp.Diff(tc.expected, string(w.readFlush())); diff != "" {
				t.Fatalf("unexpected output (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWindowCopyBackDistance(t *testing.T) {
	var w window
	w.init(nil)
	if _, err := w.copyBack(1, 1); err == nil {
		t.Fatal("expected error for back-reference into empty history")
	}
	for _, c := range []byte("xyz") {
		w.pushLiteral(c)
	}
	if _, err := w.copyBack(4, 1); err == nil {
		t.Fatal("expected error for distance beyond history")
	}
	if _, err := w.copyBack(3, 3); err != nil {
		t.Fatal(err)
	}
	if got := string(w.readFlush()); got != "xyzxyz" {
		t.Fatalf("got %q, expected %q", got, "xyzxyz")
	}
}

func TestWindowWrap(t *testing.T) {
	var w window
	w.init(nil)

	pattern := []byte("0123456789")
	var want, got bytes.Buffer
	for w.availWrite() > 0 {
		c := pattern[w.wrPos%len(pattern)]
		w.pushLiteral(c)
		want.WriteByte(c)
	}
	got.Write(w.readFlush())
	if w.wrPos != 0 || !w.full {
		t.Fatalf("window did not wrap: wrPos=%d full=%v", w.wrPos, w.full)
	}

	// The source of this copy straddles the end of the buffer.
	const dist, length = 10, 25
	n, err := w.copyBack(dist, length)
	if err != nil {
		t.Fatal(err)
	}
	if n != length {
		t.Fatalf("copied %d bytes, expected %d", n, length)
	}
	for i := 0; i < length; i++ {
		want.WriteByte(want.Bytes()[want.Len()-dist])
	}
	got.Write(w.readFlush())
	if !bytes.Equal(want.Bytes(), got.Bytes()) {
		t.Fatal("output after wrap does not match")
	}
	if w.histSize() != WindowSize {
		t.Fatalf("histSize = %d, expected %d", w.histSize(), WindowSize)
	}
	if w.totalWritten != WindowSize+length {
		t.Fatalf("totalWritten = %d, expected %d", w.totalWritten, WindowSize+length)
	}
}

func TestWindowCopyStopsWhenFull(t *testing.T) {
	var w window
	w.init(nil)
	w.pushLiteral('q')
	n, err := w.copyBack(1, WindowSize)
	if err != nil {
		t.Fatal(err)
	}
	if n != WindowSize-1 {
		t.Fatalf("copied %d bytes, expected %d", n, WindowSize-1)
	}
	if w.availWrite() != 0 {
		t.Fatalf("availWrite = %d, expected 0", w.availWrite())
	}
}

func TestWindowDictionary(t *testing.T) {
	var w window
	w.init([]byte("hello"))
	if w.availRead() != 0 {
		t.Fatal("dictionary bytes must not be handed out")
	}
	if w.totalWritten != 0 {
		t.Fatalf("totalWritten = %d, dictionary must not count", w.totalWritten)
	}
	if _, err := w.copyBack(5, 5); err != nil {
		t.Fatal(err)
	}
	if got := string(w.readFlush()); got != "hello" {
		t.Fatalf("got %q, expected %q", got, "hello")
	}

	// An oversized dictionary keeps only its last WindowSize bytes.
	dict := bytes.Repeat([]byte{'a'}, WindowSize)
	dict = append([]byte{'b'}, dict...)
	w.init(dict)
	if !w.full || w.histSize() != WindowSize {
		t.Fatalf("expected a full window, got full=%v histSize=%d", w.full, w.histSize())
	}
	win := w.snapshot()
	if win[0] != 'a' {
		t.Fatalf("oldest byte = %q, expected 'a'", win[0])
	}
}

func TestWindowSnapshot(t *testing.T) {
	var w window
	w.init(nil)
	for _, c := range []byte("abc") {
		w.pushLiteral(c)
	}
	win := w.snapshot()
	if got := string(win[WindowSize-3:]); got != "abc" {
		t.Fatalf("tail of snapshot = %q, expected %q", got, "abc")
	}
	if win[0] != 0 {
		t.Fatal("unfilled part of the snapshot must be zero")
	}

	// Fill and wrap, then write two more bytes. The newest bytes must come
	// last in the snapshot.
	for w.availWrite() > 0 {
		w.pushLiteral('.')
	}
	w.readFlush()
	w.pushLiteral('y')
	w.pushLiteral('z')
	win = w.snapshot()
	if got := string(win[WindowSize-2:]); got != "yz" {
		t.Fatalf("tail of snapshot = %q, expected %q", got, "yz")
	}
	// "ab" were overwritten; "c" is now the oldest byte.
	if got := string(win[:3]); got != "c.." {
		t.Fatalf("head of snapshot = %q, expected %q", got, "c..")
	}
}
