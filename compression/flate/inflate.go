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

// Package flate implements a streaming decoder for the DEFLATE compressed
// data format, described in RFC 1951.
//
// The decoder is a pull-based state machine: input is read from the
// underlying source only when a block needs more bits, and decoded bytes are
// handed out of the 32 KiB history window as the caller reads them. A
// Decompressor is not safe for concurrent use; independent Decompressors are.
package flate

import (
	"errors"
	"io"

	commonmetrics "github.com/awslabs/soci-inflate/metrics/common"
)

// Decompressor is the DEFLATE decompression state machine.
type Decompressor struct {
	// Input bits.
	br *BitReader

	// Huffman tables of the current dynamic block. h1 is also used for the
	// code length code while the block header is read.
	h1, h2 huffmanTable

	// Length arrays used to define Huffman codes.
	bits     [maxNumLit + maxNumDist]uint8
	codebits [numCodes]uint8

	// Output history, buffer.
	dict window

	// Next step in the decompression, and decompression state.
	state     blockState
	final     bool
	blockType BlockType
	err       error
	toRead    []byte

	// Total uncompressed bytes handed to the caller.
	totalOut int64

	blocks [3]int64

	// OnBlockEnd is called at every deflate block boundary, right after the
	// end of a block has been decoded. The argument is true if this was the
	// final block.
	OnBlockEnd func(final bool)
}

// NewReader returns a new Decompressor that can be used to read the
// uncompressed version of r (a raw DEFLATE stream). If r does not also
// implement io.ByteReader, the decompressor may read more data than
// necessary from r.
func NewReader(r io.Reader) *Decompressor {
	return NewReaderDict(r, nil)
}

// NewReaderDict is like NewReader but initializes the history window with a
// preset dictionary. Back-references may reach into the dictionary, but its
// bytes are not part of the output.
func NewReaderDict(r io.Reader, dict []byte) *Decompressor {
	return NewReaderBits(NewBitReader(r), dict)
}

// NewReaderBits returns a Decompressor that takes its input from br, which
// may be shared with a container format reader. After the final block has
// been decoded, br is positioned at the first bit following it.
func NewReaderBits(br *BitReader, dict []byte) *Decompressor {
	fixedHuffmanTablesInit()

	f := &Decompressor{}
	f.ResetBits(br, dict)
	return f
}

// Reset resets the decompressor to read a new stream from r with an optional
// preset dictionary.
func (f *Decompressor) Reset(r io.Reader, dict []byte) error {
	if f.br == nil {
		f.br = &BitReader{}
	}
	f.br.Reset(r)
	f.ResetBits(f.br, dict)
	return nil
}

// ResetBits is like Reset but continues reading from br as it stands.
func (f *Decompressor) ResetBits(br *BitReader, dict []byte) {
	fixedHuffmanTablesInit()

	*f = Decompressor{
		br:         br,
		h1:         huffmanTable{symbol: f.h1.symbol},
		h2:         huffmanTable{symbol: f.h2.symbol},
		dict:       f.dict,
		state:      headerState{},
		OnBlockEnd: f.OnBlockEnd,
	}
	f.dict.init(dict)
}

// fill makes sure decoded bytes are waiting in f.toRead, unless the stream
// has ended or failed. It reports whether bytes are available.
func (f *Decompressor) fill() bool {
	for len(f.toRead) == 0 {
		if f.err != nil {
			return false
		}
		f.state.step(f)
		if f.err != nil && len(f.toRead) == 0 {
			// Hand out whatever was decoded before the stream ended or
			// failed.
			f.toRead = f.dict.readFlush()
		}
		if n := len(f.toRead); n > 0 {
			commonmetrics.AddBytesDecoded(n)
		}
	}
	return true
}

// Read decodes into b. It returns io.EOF once the final block has been
// decoded and every byte handed out. Any other error is permanent; bytes
// returned before it are valid output.
func (f *Decompressor) Read(b []byte) (int, error) {
	if len(b) == 0 {
		if f.AtEOF() {
			return 0, io.EOF
		}
		return 0, nil
	}
	if !f.fill() {
		return 0, f.err
	}
	n := copy(b, f.toRead)
	f.toRead = f.toRead[n:]
	f.totalOut += int64(n)
	if len(f.toRead) == 0 {
		return n, f.err
	}
	return n, nil
}

// Discard decodes and drops the next n bytes of output. Every check that
// applies to Read applies here. It returns the number of bytes dropped, which
// is less than n only together with an error.
func (f *Decompressor) Discard(n int64) (int64, error) {
	var discarded int64
	for discarded < n {
		if !f.fill() {
			return discarded, f.err
		}
		m := int(min(int64(len(f.toRead)), n-discarded))
		f.toRead = f.toRead[m:]
		f.totalOut += int64(m)
		discarded += int64(m)
	}
	if len(f.toRead) == 0 && f.err != nil && f.err != io.EOF {
		return discarded, f.err
	}
	return discarded, nil
}

// AtEOF reports whether the final block has been decoded and all of its
// output handed out.
func (f *Decompressor) AtEOF() bool {
	return f.err == io.EOF && len(f.toRead) == 0
}

// Err returns the error that stopped decoding, if any. Reaching the end of
// the stream is not an error.
func (f *Decompressor) Err() error {
	if f.err == io.EOF {
		return nil
	}
	return f.err
}

// Close returns the decoding error, if any. It does not close the source.
func (f *Decompressor) Close() error {
	return f.Err()
}

func (f *Decompressor) setErr(err error) {
	if f.err != nil {
		return
	}
	f.err = err
	if !errors.Is(err, io.EOF) {
		commonmetrics.IncErrorCount(err)
	}
}

func (f *Decompressor) finishBlock() {
	f.blocks[f.blockType]++
	commonmetrics.IncBlockCount(f.blockType.String())
	if f.OnBlockEnd != nil {
		f.OnBlockEnd(f.final)
	}
	// Output is handed out at every block boundary.
	f.toRead = f.dict.readFlush()
	if f.final {
		f.state = doneState{}
		f.err = io.EOF
		return
	}
	f.state = headerState{}
}

// BitReader returns the bit source of f.
func (f *Decompressor) BitReader() *BitReader {
	return f.br
}

// ByteOffset returns the offset in the compressed input of the byte holding
// the next unconsumed bit.
func (f *Decompressor) ByteOffset() int64 {
	return f.br.Offset()
}

// BitsState returns the number of unconsumed bits (0-7) from the partially
// consumed input byte, and their value.
func (f *Decompressor) BitsState() (count uint8, value byte) {
	return f.br.BitsState()
}

// InjectBits primes the bit buffer, used when resuming decompression from a
// checkpoint that fell in the middle of an input byte.
func (f *Decompressor) InjectBits(count uint8, value byte) {
	f.br.InjectBits(count, value)
}

// Window returns the current 32KB sliding window state.
func (f *Decompressor) Window() [WindowSize]byte {
	return f.dict.snapshot()
}

// TotalOut returns the total number of uncompressed bytes handed out by Read
// and Discard.
func (f *Decompressor) TotalOut() int64 {
	return f.totalOut
}

// DecompressedTotal returns the total number of uncompressed bytes written
// to the window, including bytes not yet consumed by Read. It is accurate at
// OnBlockEnd callback time.
func (f *Decompressor) DecompressedTotal() int64 {
	return f.dict.totalWritten
}

// BlockCount returns how many blocks of type t have been decoded.
func (f *Decompressor) BlockCount(t BlockType) int64 {
	if t > DynamicHuffmanBlock {
		return 0
	}
	return f.blocks[t]
}
