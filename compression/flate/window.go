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

import "fmt"

// WindowSize is the size of the DEFLATE history window.
const WindowSize = 1 << 15

// window implements the LZ77 sliding history used during decompression.
//
// Decoded bytes are written at wrPos and handed out from rdPos. When wrPos
// reaches the end of hist the pending bytes must be flushed with readFlush
// before anything else is written, after which writing wraps to the start.
type window struct {
	hist []byte // Sliding window history

	// Invariant: 0 <= rdPos <= wrPos <= len(hist)
	wrPos int  // Current output position in buffer
	rdPos int  // Have emitted hist[:rdPos] already
	full  bool // Has a full window length been written yet?

	totalWritten int64 // Total bytes produced, not counting a preset dictionary
}

// init resets the window, seeding it with the tail of dict. Dictionary bytes
// count as history for back-references but are never handed out.
func (w *window) init(dict []byte) {
	*w = window{hist: w.hist}

	if cap(w.hist) < WindowSize {
		w.hist = make([]byte, WindowSize)
	}
	w.hist = w.hist[:WindowSize]

	if len(dict) > len(w.hist) {
		dict = dict[len(dict)-len(w.hist):]
	}
	w.wrPos = copy(w.hist, dict)
	if w.wrPos == len(w.hist) {
		w.wrPos = 0
		w.full = true
	}
	w.rdPos = w.wrPos
}

// histSize reports how many bytes of history a back-reference may reach.
func (w *window) histSize() int {
	if w.full {
		return len(w.hist)
	}
	return w.wrPos
}

// availRead reports the number of decoded bytes waiting to be flushed.
func (w *window) availRead() int {
	return w.wrPos - w.rdPos
}

// availWrite reports how many bytes may be written before a flush is needed.
func (w *window) availWrite() int {
	return len(w.hist) - w.wrPos
}

// writeSlice returns the writable tail of the window. Bytes placed there must
// be committed with writeMark.
func (w *window) writeSlice() []byte {
	return w.hist[w.wrPos:]
}

func (w *window) writeMark(cnt int) {
	if cnt < 0 || cnt > w.availWrite() {
		panic("flate: window write mark out of range")
	}
	w.wrPos += cnt
	w.totalWritten += int64(cnt)
}

// pushLiteral appends one byte. The caller guarantees availWrite() > 0.
func (w *window) pushLiteral(c byte) {
	w.hist[w.wrPos] = c
	w.wrPos++
	w.totalWritten++
}

// copyBack appends up to length bytes, each copied from dist bytes behind the
// write position. When dist < length the bytes written by this call become
// the source of later ones, so the copy proceeds front to back. It stops
// early if the window fills up and returns the number of bytes written; the
// caller flushes and calls again for the rest.
func (w *window) copyBack(dist, length int) (int, error) {
	if dist < 1 || dist > w.histSize() {
		return 0, fmt.Errorf("back-reference distance %d exceeds history of %d bytes", dist, w.histSize())
	}
	dstBase := w.wrPos
	endPos := min(w.wrPos+length, len(w.hist))
	srcPos := w.wrPos - dist

	if srcPos >= 0 && srcPos+(endPos-w.wrPos) <= w.wrPos {
		// Source and destination do not overlap and the source does not
		// wrap, so a bulk copy is safe.
		copy(w.hist[w.wrPos:endPos], w.hist[srcPos:])
		w.wrPos = endPos
	} else {
		if srcPos < 0 {
			srcPos += len(w.hist)
		}
		for w.wrPos < endPos {
			w.hist[w.wrPos] = w.hist[srcPos]
			w.wrPos++
			srcPos++
			if srcPos == len(w.hist) {
				srcPos = 0
			}
		}
	}

	written := w.wrPos - dstBase
	w.totalWritten += int64(written)
	return written, nil
}

// readFlush returns the bytes decoded since the last flush. The slice is only
// valid until the next write.
func (w *window) readFlush() []byte {
	toRead := w.hist[w.rdPos:w.wrPos]
	w.rdPos = w.wrPos
	if w.wrPos == len(w.hist) {
		w.wrPos, w.rdPos = 0, 0
		w.full = true
	}
	return toRead
}

// snapshot returns the current window in decompression order, oldest byte
// first. Before a full window has been produced, the leading bytes are zero.
func (w *window) snapshot() [WindowSize]byte {
	var win [WindowSize]byte
	if !w.full {
		if w.wrPos > 0 {
			copy(win[WindowSize-w.wrPos:], w.hist[:w.wrPos])
		}
	} else {
		// wrPos is where the next write goes, which is also the oldest byte.
		n := copy(win[:], w.hist[w.wrPos:])
		copy(win[n:], w.hist[:w.wrPos])
	}
	return win
}
