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

// Package gzip reads gzip compressed streams (RFC 1952) using the DEFLATE
// decoder of package flate.
//
// The gzip framing and the DEFLATE payload share one flate.BitReader, so the
// reader never pulls more input than the members it has decoded need. This
// keeps compressed offsets exact, which the span index relies on.
package gzip

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/awslabs/soci-inflate/compression"
	"github.com/awslabs/soci-inflate/compression/flate"
	commonmetrics "github.com/awslabs/soci-inflate/metrics/common"
	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
)

const (
	gzipID1     = 0x1f
	gzipID2     = 0x8b
	gzipDeflate = 8

	flagText     = 1 << 0
	flagHdrCrc   = 1 << 1
	flagExtra    = 1 << 2
	flagName     = 1 << 3
	flagComment  = 1 << 4
	flagReserved = 0xe0

	// maxHeaderString bounds FNAME and FCOMMENT.
	maxHeaderString = 64 << 10
)

// Header holds the metadata of one gzip member.
//
// Strings are stored as UTF-8; RFC 1952 specifies Latin-1 on the wire.
type Header struct {
	Comment string    // comment
	Extra   []byte    // "extra data"
	ModTime time.Time // modification time, zero if unset
	Name    string    // file name
	OS      byte      // operating system type
	XFL     byte      // extra flags
	Text    bool      // FTEXT hint
}

// Option configures a Reader.
type Option func(*Reader)

// WithContext attaches ctx to the reader. Member headers and trailers are
// logged at debug level to the logger carried by ctx.
func WithContext(ctx context.Context) Option {
	return func(z *Reader) {
		z.ctx = ctx
	}
}

// Reader is an io.Reader that decompresses a gzip stream.
//
// The embedded Header describes the member currently being read and is
// updated each time a new member starts. A Reader is not safe for concurrent
// use.
type Reader struct {
	Header

	ctx          context.Context
	br           *flate.BitReader
	decompressor *flate.Decompressor
	multistream  bool

	digest      uint32 // CRC-32, IEEE polynomial (section 8)
	size        uint32 // Uncompressed size (section 2.3.1)
	memberStart int64
	members     int
	blocks      [3]int64
	totalOut    int64
	err         error
}

// NewReader creates a new Reader reading the given reader and reads the
// header of the first member. The reader may pull bytes from r one at a
// time; wrap r in a bufio.Reader if it is expensive to read from.
//
// Multistream is enabled by default: concatenated members are read as one
// stream.
func NewReader(r io.Reader, opts ...Option) (*Reader, error) {
	z := &Reader{}
	for _, opt := range opts {
		opt(z)
	}
	if err := z.Reset(r); err != nil {
		return nil, err
	}
	return z, nil
}

// Reset discards the Reader's state and makes it equivalent to the result of
// NewReader on r, keeping the options it was created with.
func (z *Reader) Reset(r io.Reader) error {
	if z.ctx == nil {
		z.ctx = context.Background()
	}
	br := z.br
	if br == nil {
		br = &flate.BitReader{}
	}
	br.Reset(r)
	*z = Reader{
		ctx:          z.ctx,
		br:           br,
		decompressor: z.decompressor,
		multistream:  true,
	}
	if err := z.readHeader(); err != nil {
		z.err = err
		return err
	}
	return nil
}

// Multistream controls whether the reader supports multistream files.
//
// If enabled (the default), the Reader expects the input to be a sequence of
// individually gzipped members, each with its own header and trailer, ending
// at EOF. The effect is that the concatenation of a sequence of gzipped files
// is treated as equivalent to the gzip of the concatenation of the sequence.
//
// If disabled, Read returns io.EOF at the end of the first member, leaving
// the input positioned right after its trailer. Anything that follows is
// neither read nor checked.
func (z *Reader) Multistream(ok bool) {
	z.multistream = ok
}

// Decompressor returns the DEFLATE decoder of the current member. Callbacks
// installed on it survive the transition to the next member.
func (z *Reader) Decompressor() *flate.Decompressor {
	return z.decompressor
}

// Read implements io.Reader, reading uncompressed bytes from its underlying
// Reader. The trailer of a member is verified as soon as its last byte has
// been returned; a mismatch is reported together with that last chunk.
func (z *Reader) Read(p []byte) (n int, err error) {
	if z.err != nil {
		return 0, z.err
	}

	n, err = z.decompressor.Read(p)
	z.digest = crc32.Update(z.digest, crc32.IEEETable, p[:n])
	z.size += uint32(n)
	z.totalOut += int64(n)
	if err == nil {
		return n, nil
	}
	if err != io.EOF {
		z.err = err
		return n, err
	}

	// Finished the member body; verify the trailer.
	if err := z.readTrailer(); err != nil {
		z.err = err
		return n, err
	}

	// Member is ok; check if there is another.
	if !z.multistream {
		z.err = io.EOF
		return n, io.EOF
	}
	eof, err := z.br.AtEOF()
	if err != nil {
		z.err = err
		return n, err
	}
	if eof {
		z.err = io.EOF
		return n, io.EOF
	}
	if err := z.readHeader(); err != nil {
		z.err = err
		return n, err
	}

	// Read from next member, if necessary.
	if n > 0 {
		return n, nil
	}
	return z.Read(p)
}

// Discard decompresses and drops the next n bytes, verifying checksums as
// Read does. It returns the number of bytes dropped, which is less than n
// only together with an error; reaching the end of the stream early returns
// io.EOF.
func (z *Reader) Discard(n int64) (int64, error) {
	var buf [flate.WindowSize]byte
	var discarded int64
	for discarded < n {
		m, err := z.Read(buf[:min(int64(len(buf)), n-discarded)])
		discarded += int64(m)
		if err != nil {
			if err == io.EOF && discarded == n {
				return discarded, nil
			}
			return discarded, err
		}
	}
	return discarded, nil
}

// AtEOF reports whether the whole stream has been read and every trailer
// verified.
func (z *Reader) AtEOF() bool {
	return z.err == io.EOF
}

// Err returns the error that stopped decompression, if any. The end of the
// stream is not an error.
func (z *Reader) Err() error {
	if z.err == io.EOF {
		return nil
	}
	return z.err
}

// Close closes the Reader. It does not close the underlying io.Reader. In
// order for the gzip checksums to be verified, the reader must be fully
// consumed until the io.EOF.
func (z *Reader) Close() error {
	return z.Err()
}

// Members returns the number of members whose trailer has been verified.
func (z *Reader) Members() int {
	return z.members
}

// MemberOffset returns the compressed offset at which the current member's
// header starts.
func (z *Reader) MemberOffset() int64 {
	return z.memberStart
}

// InputOffset returns the number of compressed bytes consumed so far.
func (z *Reader) InputOffset() int64 {
	return z.br.Offset()
}

// TotalOut returns the number of uncompressed bytes returned so far, over all
// members.
func (z *Reader) TotalOut() int64 {
	return z.totalOut
}

// BlockCount returns the number of DEFLATE blocks of type t decoded so far,
// over all members.
func (z *Reader) BlockCount(t flate.BlockType) int64 {
	if int(t) >= len(z.blocks) {
		return 0
	}
	if z.decompressor == nil {
		return z.blocks[t]
	}
	return z.blocks[t] + z.decompressor.BlockCount(t)
}

// fail records an error detected by the gzip layer itself.
func (z *Reader) fail(err error) error {
	commonmetrics.IncErrorCount(err)
	return err
}

func (z *Reader) framing(offset int64, format string, args ...interface{}) error {
	return z.fail(&compression.FramingError{Offset: offset, Reason: fmt.Sprintf(format, args...)})
}

// readFull reads len(p) header or trailer bytes. hdrDigest, if not nil,
// accumulates the header CRC.
func (z *Reader) readFull(p []byte, hdrDigest *uint32) error {
	if _, err := z.br.ReadFull(p); err != nil {
		return z.fail(err)
	}
	if hdrDigest != nil {
		*hdrDigest = crc32.Update(*hdrDigest, crc32.IEEETable, p)
	}
	return nil
}

// readString reads a NUL-terminated string. The bytes are Latin-1 and are
// converted to UTF-8.
func (z *Reader) readString(hdrDigest *uint32) (string, error) {
	var (
		buf      []byte
		needConv bool
	)
	for {
		c, err := z.br.ReadByte()
		if err != nil {
			return "", z.fail(err)
		}
		*hdrDigest = crc32.Update(*hdrDigest, crc32.IEEETable, []byte{c})
		if c == 0 {
			break
		}
		if len(buf) == maxHeaderString {
			return "", z.framing(z.br.Offset(), "header string longer than %d bytes", maxHeaderString)
		}
		if c > 0x7f {
			needConv = true
		}
		buf = append(buf, c)
	}
	if !needConv {
		return string(buf), nil
	}
	s := make([]rune, 0, len(buf))
	for _, c := range buf {
		s = append(s, rune(c))
	}
	return string(s), nil
}

// readHeader reads a member header and prepares the decompressor for its
// body.
func (z *Reader) readHeader() error {
	z.br.AlignToByte()
	z.memberStart = z.br.Offset()

	var (
		buf       [10]byte
		hdrDigest uint32
	)
	if err := z.readFull(buf[:2], &hdrDigest); err != nil {
		return err
	}
	if buf[0] != gzipID1 || buf[1] != gzipID2 {
		return z.framing(z.memberStart, "invalid gzip magic %#02x %#02x", buf[0], buf[1])
	}
	if err := z.readFull(buf[2:], &hdrDigest); err != nil {
		return err
	}
	if buf[2] != gzipDeflate {
		return z.framing(z.memberStart+2, "unsupported compression method %d", buf[2])
	}
	flg := buf[3]
	if flg&flagReserved != 0 {
		return z.framing(z.memberStart+3, "reserved flag bits set: %#02x", flg)
	}

	z.Header = Header{
		XFL:  buf[8],
		OS:   buf[9],
		Text: flg&flagText != 0,
	}
	if t := int64(binary.LittleEndian.Uint32(buf[4:8])); t > 0 {
		// Section 2.3.1, the zero value for MTIME means that the
		// modified time is not set.
		z.ModTime = time.Unix(t, 0)
	}

	if flg&flagExtra != 0 {
		if err := z.readFull(buf[:2], &hdrDigest); err != nil {
			return err
		}
		data := make([]byte, binary.LittleEndian.Uint16(buf[:2]))
		if err := z.readFull(data, &hdrDigest); err != nil {
			return err
		}
		z.Extra = data
	}

	var err error
	if flg&flagName != 0 {
		if z.Name, err = z.readString(&hdrDigest); err != nil {
			return err
		}
	}
	if flg&flagComment != 0 {
		if z.Comment, err = z.readString(&hdrDigest); err != nil {
			return err
		}
	}

	if flg&flagHdrCrc != 0 {
		want := uint16(hdrDigest)
		if err := z.readFull(buf[:2], nil); err != nil {
			return err
		}
		if got := binary.LittleEndian.Uint16(buf[:2]); got != want {
			return z.framing(z.br.Offset()-2, "header checksum %#04x does not match computed %#04x", got, want)
		}
	}

	z.digest = 0
	z.size = 0
	if z.decompressor == nil {
		z.decompressor = flate.NewReaderBits(z.br, nil)
	} else {
		if z.members > 0 {
			// Fold in the counts of the member that just ended.
			for t := range z.blocks {
				z.blocks[t] += z.decompressor.BlockCount(flate.BlockType(t))
			}
		}
		z.decompressor.ResetBits(z.br, nil)
	}

	log.G(z.ctx).WithFields(logrus.Fields{
		"offset":  z.memberStart,
		"member":  z.members,
		"name":    z.Name,
		"modtime": z.ModTime,
		"os":      z.OS,
	}).Debug("gzip member header")
	return nil
}

// readTrailer verifies the CRC-32 and ISIZE of the member just decoded.
func (z *Reader) readTrailer() error {
	z.br.AlignToByte()
	off := z.br.Offset()

	var buf [8]byte
	if err := z.readFull(buf[:], nil); err != nil {
		return err
	}
	digest := binary.LittleEndian.Uint32(buf[:4])
	size := binary.LittleEndian.Uint32(buf[4:8])
	if digest != z.digest {
		return z.fail(&compression.IntegrityError{Offset: off, Field: "crc32", Expected: digest, Actual: z.digest})
	}
	if size != z.size {
		return z.fail(&compression.IntegrityError{Offset: off + 4, Field: "isize", Expected: size, Actual: z.size})
	}

	z.members++
	commonmetrics.IncMemberCount()
	log.G(z.ctx).WithFields(logrus.Fields{
		"member": z.members - 1,
		"crc32":  fmt.Sprintf("%08x", digest),
		"isize":  size,
		"end":    z.br.Offset(),
	}).Debug("gzip member verified")
	return nil
}
