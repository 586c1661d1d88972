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

package ioutils

import (
	"bufio"
	"io"
)

// PositionTrackerReader is a buffered reader that tracks how many bytes
// its caller has consumed from an underlying `io.Reader`. Bytes that are
// buffered but not yet consumed do not count.
type PositionTrackerReader struct {
	r   *bufio.Reader
	pos int64
}

// NewPositionTrackerReader creates a new PositionTrackerReader with the initial position
// set to 0.
func NewPositionTrackerReader(r io.Reader) *PositionTrackerReader {
	return &PositionTrackerReader{r: bufio.NewReader(r)}
}

// Read reads from the PositionTrackerReader into the provided byte slice.
// The position of the PositionTrackerReader is advanced by the
// number of bytes read.
func (p *PositionTrackerReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.pos += int64(n)
	return n, err
}

// ReadByte reads a single byte, advancing the position on success.
func (p *PositionTrackerReader) ReadByte() (byte, error) {
	c, err := p.r.ReadByte()
	if err == nil {
		p.pos++
	}
	return c, err
}

// CurrentPos is the current position of the PositionTrackerReader
func (p *PositionTrackerReader) CurrentPos() int64 {
	return p.pos
}

// Peek returns the next n bytes without consuming them.
func (p *PositionTrackerReader) Peek(n int) ([]byte, error) {
	return p.r.Peek(n)
}

// AtEOF reports whether the underlying reader has no bytes left after the
// current position.
func (p *PositionTrackerReader) AtEOF() (bool, error) {
	_, err := p.r.Peek(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// Remaining drains the underlying reader and reports how many bytes were
// left after the current position.
func (p *PositionTrackerReader) Remaining() (int64, error) {
	return io.Copy(io.Discard, p.r)
}
