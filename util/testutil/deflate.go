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

// This utility helps test codes to hand-assemble DEFLATE and gzip streams and
// to compress reference data with an independent encoder.

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// BitWriter packs bits least-significant bit first, the way DEFLATE does.
type BitWriter struct {
	buf []byte
	b   uint64
	nb  uint
}

// WriteBits appends the low n bits of v, least-significant bit first.
func (w *BitWriter) WriteBits(v uint64, n uint) {
	for i := uint(0); i < n; i++ {
		w.b |= (v >> i & 1) << w.nb
		w.nb++
		if w.nb == 8 {
			w.buf = append(w.buf, byte(w.b))
			w.b, w.nb = 0, 0
		}
	}
}

// WriteCode appends a Huffman code of length n. Huffman codes are packed
// starting with their most significant bit.
func (w *BitWriter) WriteCode(code uint64, n uint) {
	for i := n; i > 0; i-- {
		w.WriteBits(code>>(i-1)&1, 1)
	}
}

// Align pads with zero bits up to the next byte boundary.
func (w *BitWriter) Align() {
	if w.nb > 0 {
		w.WriteBits(0, 8-w.nb)
	}
}

// WriteBytes appends whole bytes. The writer must be aligned.
func (w *BitWriter) WriteBytes(p []byte) {
	if w.nb != 0 {
		panic("testutil: WriteBytes on unaligned BitWriter")
	}
	w.buf = append(w.buf, p...)
}

// Bytes returns the packed stream, with a partial last byte zero padded.
func (w *BitWriter) Bytes() []byte {
	out := append([]byte(nil), w.buf...)
	if w.nb > 0 {
		out = append(out, byte(w.b))
	}
	return out
}

// StoredBlock returns a single stored DEFLATE block holding data, which must
// be shorter than 64 KiB.
func StoredBlock(data []byte, final bool) []byte {
	if len(data) > 0xffff {
		panic("testutil: stored block too large")
	}
	var hdr byte
	if final {
		hdr = 1
	}
	n := uint16(len(data))
	out := []byte{hdr, byte(n), byte(n >> 8), byte(^n), byte(^n >> 8)}
	return append(out, data...)
}

// GzipMemberOptions is a set of options used when building a gzip member.
type GzipMemberOptions struct {
	Name    string
	Comment string
	Extra   []byte
	HCRC    bool
	ModTime uint32
	OS      byte
}

// GzipMemberOption is an option used when building a gzip member.
type GzipMemberOption func(o *GzipMemberOptions)

func WithMemberName(name string) GzipMemberOption {
	return func(o *GzipMemberOptions) {
		o.Name = name
	}
}

func WithMemberComment(comment string) GzipMemberOption {
	return func(o *GzipMemberOptions) {
		o.Comment = comment
	}
}

func WithMemberExtra(extra []byte) GzipMemberOption {
	return func(o *GzipMemberOptions) {
		o.Extra = extra
	}
}

// WithHeaderCRC adds an FHCRC field to the member header.
func WithHeaderCRC() GzipMemberOption {
	return func(o *GzipMemberOptions) {
		o.HCRC = true
	}
}

func WithModTime(mtime uint32) GzipMemberOption {
	return func(o *GzipMemberOptions) {
		o.ModTime = mtime
	}
}

// GzipMember wraps an already encoded DEFLATE stream in a gzip header and a
// trailer holding the CRC32 and size of data.
func GzipMember(deflated, data []byte, opts ...GzipMemberOption) []byte {
	o := GzipMemberOptions{OS: 255}
	for _, opt := range opts {
		opt(&o)
	}

	var flg byte
	if o.HCRC {
		flg |= 0x02
	}
	if o.Extra != nil {
		flg |= 0x04
	}
	if o.Name != "" {
		flg |= 0x08
	}
	if o.Comment != "" {
		flg |= 0x10
	}
	hdr := []byte{0x1f, 0x8b, 8, flg, 0, 0, 0, 0, 0, o.OS}
	binary.LittleEndian.PutUint32(hdr[4:8], o.ModTime)
	if o.Extra != nil {
		hdr = binary.LittleEndian.AppendUint16(hdr, uint16(len(o.Extra)))
		hdr = append(hdr, o.Extra...)
	}
	if o.Name != "" {
		hdr = append(append(hdr, o.Name...), 0)
	}
	if o.Comment != "" {
		hdr = append(append(hdr, o.Comment...), 0)
	}
	if o.HCRC {
		hdr = binary.LittleEndian.AppendUint16(hdr, uint16(crc32.ChecksumIEEE(hdr)))
	}

	out := append(hdr, deflated...)
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(data))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	return out
}

// DeflateCompress compresses data into a raw DEFLATE stream at the given
// klauspost/compress level.
func DeflateCompress(data []byte, level int) []byte {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(data); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// DeflateCompressDict is like DeflateCompress but primes the encoder with a
// preset dictionary.
func DeflateCompressDict(data, dict []byte, level int) []byte {
	var buf bytes.Buffer
	w, err := flate.NewWriterDict(&buf, level, dict)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(data); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// GzipCompress compresses data into a single gzip member at the given level,
// recording name in the header when it is not empty.
func GzipCompress(data []byte, level int, name string) []byte {
	return GzipCompressFlushed(data, level, name, 0)
}

// GzipCompressFlushed is like GzipCompress but flushes the encoder after
// every interval bytes of input, so no DEFLATE block spans more than interval
// bytes of output. An interval of 0 never flushes.
func GzipCompressFlushed(data []byte, level int, name string, interval int) []byte {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		panic(err)
	}
	w.Name = name
	if err := writeFlushed(w, data, interval); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type flushWriter interface {
	Write(p []byte) (int, error)
	Flush() error
}

// writeFlushed writes data to w, calling Flush after each interval bytes.
func writeFlushed(w flushWriter, data []byte, interval int) error {
	if interval <= 0 {
		_, err := w.Write(data)
		return err
	}
	for len(data) > 0 {
		n := min(interval, len(data))
		if _, err := w.Write(data[:n]); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
