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
	"bufio"
	"fmt"
	"io"

	"github.com/awslabs/soci-inflate/compression"
)

// maxReadBits is the largest bit count a single ReadBits call may request.
const maxReadBits = 32

// Reader is the actual read interface needed by NewReader.
// If the passed in io.Reader does not also have ReadByte,
// NewReader will introduce its own buffering.
type Reader interface {
	io.Reader
	io.ByteReader
}

// BitReader delivers the bits of a byte stream least-significant bit first,
// which is the order DEFLATE packs them in. Bits are pulled from the source on
// demand, one byte at a time, so the reader never holds more input than the
// largest outstanding request needs. This lets a gzip reader share the same
// BitReader for the member header and trailer without losing bytes that belong
// to them.
type BitReader struct {
	r    Reader
	rBuf *bufio.Reader

	// Input bits, next bit in the least significant position.
	b  uint64
	nb uint

	roffset int64 // bytes pulled from r
	eof     bool  // r returned io.EOF
	err     error // sticky error from r
}

// NewBitReader returns a BitReader reading from r.
func NewBitReader(r io.Reader) *BitReader {
	br := &BitReader{}
	br.Reset(r)
	return br
}

// Reset discards all buffered bits and makes br read from r.
func (br *BitReader) Reset(r io.Reader) {
	*br = BitReader{rBuf: br.rBuf}
	br.makeReader(r)
}

func (br *BitReader) makeReader(r io.Reader) {
	if rr, ok := r.(Reader); ok {
		br.rBuf = nil
		br.r = rr
		return
	}
	if br.rBuf != nil {
		br.rBuf.Reset(r)
	} else {
		br.rBuf = bufio.NewReader(r)
	}
	br.r = br.rBuf
}

// fill pulls bytes until at least n bits are buffered. It returns io.EOF if
// the source ended first; whatever was available stays buffered.
func (br *BitReader) fill(n uint) error {
	for br.nb < n {
		if br.err != nil {
			return br.err
		}
		if br.eof {
			return io.EOF
		}
		c, err := br.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				br.eof = true
				return io.EOF
			}
			br.err = fmt.Errorf("flate: failed to read input at offset %d: %w", br.roffset, err)
			return br.err
		}
		br.roffset++
		br.b |= uint64(c) << br.nb
		br.nb += 8
	}
	return nil
}

// ReadBits consumes and returns the next n bits, 0 <= n <= 32. The first bit
// of the stream ends up in bit 0 of the result.
func (br *BitReader) ReadBits(n uint) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	if n > maxReadBits {
		panic("flate: ReadBits request too large")
	}
	if err := br.fill(n); err != nil {
		if err == io.EOF {
			return 0, br.truncated(fmt.Sprintf("need %d bits, have %d", n, br.nb))
		}
		return 0, err
	}
	v := uint32(br.b & (1<<n - 1))
	br.b >>= n
	br.nb -= n
	return v, nil
}

// PeekBits returns up to the next n bits without consuming them, along with
// how many of them are real input. Fewer than n bits are only ever returned
// when the source has ended; the missing high bits are zero.
func (br *BitReader) PeekBits(n uint) (uint32, uint, error) {
	if n > maxReadBits {
		panic("flate: PeekBits request too large")
	}
	if err := br.fill(n); err != nil && err != io.EOF {
		return 0, 0, err
	}
	avail := min(n, br.nb)
	return uint32(br.b & (1<<avail - 1)), avail, nil
}

// Consume drops n bits previously returned by PeekBits.
func (br *BitReader) Consume(n uint) {
	if n > br.nb {
		panic("flate: consuming bits that were never peeked")
	}
	br.b >>= n
	br.nb -= n
}

// AlignToByte discards the unconsumed bits of a partially consumed byte.
func (br *BitReader) AlignToByte() {
	n := br.nb % 8
	br.b >>= n
	br.nb -= n
}

// Aligned reports whether the next bit is the first bit of a byte.
func (br *BitReader) Aligned() bool {
	return br.nb%8 == 0
}

// ReadByte returns the next whole byte. The reader must be byte aligned.
func (br *BitReader) ReadByte() (byte, error) {
	if !br.Aligned() {
		panic("flate: ReadByte on unaligned BitReader")
	}
	v, err := br.ReadBits(8)
	return byte(v), err
}

// ReadFull fills p with whole bytes from the stream. The reader must be byte
// aligned. Running out of input yields a TruncatedInputError together with the
// number of bytes that could be read.
func (br *BitReader) ReadFull(p []byte) (int, error) {
	if !br.Aligned() {
		panic("flate: ReadFull on unaligned BitReader")
	}
	n := 0
	for n < len(p) && br.nb > 0 {
		p[n] = byte(br.b)
		br.b >>= 8
		br.nb -= 8
		n++
	}
	if n == len(p) {
		return n, nil
	}
	if br.err != nil {
		return n, br.err
	}
	if br.eof {
		return n, br.truncated(fmt.Sprintf("need %d more bytes", len(p)-n))
	}
	m, err := io.ReadFull(br.r, p[n:])
	br.roffset += int64(m)
	n += m
	switch {
	case err == nil:
		return n, nil
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		br.eof = true
		return n, br.truncated(fmt.Sprintf("need %d more bytes", len(p)-n))
	default:
		br.err = fmt.Errorf("flate: failed to read input at offset %d: %w", br.roffset, err)
		return n, br.err
	}
}

// AtEOF reports whether every bit of the input has been consumed. It may pull
// one byte from the source to find out; that byte stays buffered.
func (br *BitReader) AtEOF() (bool, error) {
	if br.nb > 0 {
		return false, nil
	}
	if err := br.fill(8); err != nil {
		if err == io.EOF {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// Offset returns the offset, relative to the start of the source, of the byte
// holding the next unconsumed bit.
func (br *BitReader) Offset() int64 {
	return br.roffset - int64((br.nb+7)/8)
}

// BitsState returns the number of unconsumed bits (0-7) left over from a
// partially consumed byte, and their value.
func (br *BitReader) BitsState() (count uint8, value byte) {
	count = uint8(br.nb % 8)
	if count > 0 {
		value = byte(br.b & (1<<count - 1))
	}
	return
}

// InjectBits places count (at most 7) bits of value in front of anything the
// reader would otherwise deliver. It is used to resume a stream that stopped
// in the middle of a byte.
func (br *BitReader) InjectBits(count uint8, value byte) {
	if count > 7 {
		panic("flate: cannot inject more than 7 bits")
	}
	br.b = br.b<<count | uint64(value&(1<<count-1))
	br.nb += uint(count)
}

func (br *BitReader) truncated(reason string) error {
	return &compression.TruncatedInputError{Offset: br.roffset, Reason: reason}
}

func (br *BitReader) corrupt(reason string) error {
	return &compression.BitstreamError{Offset: br.Offset(), Reason: reason}
}
