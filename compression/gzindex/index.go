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

// Package gzindex builds and uses span indexes over gzip streams.
//
// An index records a checkpoint at the first DEFLATE block boundary after
// every span of uncompressed data: the compressed and uncompressed offsets of
// the boundary, the bits of the partially consumed input byte, and the 32 KiB
// window of history preceding it. With a checkpoint, decompression can start
// in the middle of the stream without decoding anything before it.
package gzindex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/awslabs/soci-inflate/compression"
	"github.com/awslabs/soci-inflate/compression/flate"
	"github.com/awslabs/soci-inflate/compression/gzip"
)

const (
	winSize              = flate.WindowSize
	packedCheckpointSize = 8 + 8 + 1 + winSize
	blobHeaderSize       = 4 + 8
)

var (
	// ErrMultiMember is returned by Build for streams with more than one
	// gzip member.
	ErrMultiMember = errors.New("multi-member gzip streams cannot be indexed")

	// ErrInvalidIndex is returned by Unmarshal for blobs that are not a
	// serialized index.
	ErrInvalidIndex = errors.New("invalid gzip index")
)

// checkpoint holds the state needed to resume decompression at a DEFLATE
// block boundary.
type checkpoint struct {
	In     int64         // offset in compressed stream of first full byte
	Out    int64         // corresponding offset in uncompressed data
	Bits   uint8         // number of bits (1-7) from byte at In-1, or 0
	Window [winSize]byte // preceding 32K of uncompressed data
}

// Index is a span index over a single-member gzip stream. It implements
// compression.Extractor.
type Index struct {
	spanSize int64
	points   []checkpoint
}

// Build reads the gzip stream r to its end and returns an index with a
// checkpoint roughly every spanSize uncompressed bytes. The stream is fully
// verified, trailer included.
func Build(ctx context.Context, r io.Reader, spanSize int64) (*Index, error) {
	if spanSize <= 0 {
		return nil, fmt.Errorf("invalid span size %d", spanSize)
	}
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}
	zr, err := gzip.NewReader(r, gzip.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("invalid gzip header: %w", err)
	}
	zr.Multistream(false)

	// The first checkpoint sits right after the gzip header, before any
	// DEFLATE block.
	idx := &Index{spanSize: spanSize}
	idx.points = append(idx.points, checkpoint{In: zr.InputOffset()})
	var last int64

	dec := zr.Decompressor()
	dec.OnBlockEnd = func(final bool) {
		if final {
			return
		}
		// DecompressedTotal is exact at callback time, unlike the amount
		// handed out so far.
		totout := dec.DecompressedTotal()
		if totout-last <= spanSize {
			return
		}
		bits, _ := dec.BitsState()
		in := dec.ByteOffset()
		if bits > 0 {
			in++
		}
		idx.points = append(idx.points, checkpoint{
			In:     in,
			Out:    totout,
			Bits:   bits,
			Window: dec.Window(),
		})
		last = totout
	}

	if _, err := io.Copy(io.Discard, zr); err != nil {
		return nil, fmt.Errorf("decompression error: %w", err)
	}
	eof, err := dec.BitReader().AtEOF()
	if err != nil {
		return nil, err
	}
	if !eof {
		return nil, ErrMultiMember
	}
	return idx, nil
}

// BuildFromFile opens gzipFile and builds an index over it.
func BuildFromFile(ctx context.Context, gzipFile string, spanSize int64) (*Index, error) {
	f, err := os.Open(gzipFile)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer f.Close()
	return Build(ctx, f, spanSize)
}

// Unmarshal deserializes an index produced by Bytes.
func Unmarshal(b []byte) (*Index, error) {
	if len(b) < blobHeaderSize {
		return nil, fmt.Errorf("%w: blob of %d bytes is too short", ErrInvalidIndex, len(b))
	}
	numCheckpoints := int64(binary.LittleEndian.Uint32(b[0:4]))
	spanSize := int64(binary.LittleEndian.Uint64(b[4:12]))
	if numCheckpoints == 0 {
		return nil, fmt.Errorf("%w: no checkpoints", ErrInvalidIndex)
	}
	if want := numCheckpoints*packedCheckpointSize + blobHeaderSize; int64(len(b)) != want {
		return nil, fmt.Errorf("%w: %d checkpoints need %d bytes, have %d", ErrInvalidIndex, numCheckpoints, want, len(b))
	}

	idx := &Index{
		spanSize: spanSize,
		points:   make([]checkpoint, numCheckpoints),
	}
	cur := b[blobHeaderSize:]
	for i := range idx.points {
		pt := &idx.points[i]
		pt.In = int64(binary.LittleEndian.Uint64(cur[0:8]))
		pt.Out = int64(binary.LittleEndian.Uint64(cur[8:16]))
		pt.Bits = cur[16]
		if pt.Bits > 7 {
			return nil, fmt.Errorf("%w: checkpoint %d has %d bits", ErrInvalidIndex, i, pt.Bits)
		}
		copy(pt.Window[:], cur[17:17+winSize])
		cur = cur[packedCheckpointSize:]
	}
	return idx, nil
}

// Bytes serializes the index.
func (idx *Index) Bytes() ([]byte, error) {
	buf := make([]byte, blobHeaderSize+len(idx.points)*packedCheckpointSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(idx.points)))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(idx.spanSize))

	cur := buf[blobHeaderSize:]
	for i := range idx.points {
		pt := &idx.points[i]
		binary.LittleEndian.PutUint64(cur[0:8], uint64(pt.In))
		binary.LittleEndian.PutUint64(cur[8:16], uint64(pt.Out))
		cur[16] = pt.Bits
		copy(cur[17:17+winSize], pt.Window[:])
		cur = cur[packedCheckpointSize:]
	}
	return buf, nil
}

// Close is a no-op.
func (idx *Index) Close() {}

// MaxSpanID returns the maximum span ID (number of checkpoints - 1).
func (idx *Index) MaxSpanID() compression.SpanID {
	return compression.SpanID(len(idx.points) - 1)
}

// SpanSize returns the span size used to build this index.
func (idx *Index) SpanSize() compression.Offset {
	return compression.Offset(idx.spanSize)
}

// UncompressedOffsetToSpanID returns the ID of the span containing the given
// uncompressed offset.
func (idx *Index) UncompressedOffsetToSpanID(offset compression.Offset) compression.SpanID {
	res := 0
	for i := 1; i < len(idx.points); i++ {
		if idx.points[i].Out > int64(offset) {
			break
		}
		res = i
	}
	return compression.SpanID(res)
}

// StartCompressedOffset returns the offset in the compressed stream of the
// first byte belonging to spanID, which is the partially consumed byte if
// the span starts mid-byte.
func (idx *Index) StartCompressedOffset(spanID compression.SpanID) compression.Offset {
	pt := &idx.points[spanID]
	start := pt.In
	if pt.Bits > 0 {
		start--
	}
	return compression.Offset(start)
}

// EndCompressedOffset returns the offset in the compressed stream where
// spanID ends. For the last span that is fileSize.
func (idx *Index) EndCompressedOffset(spanID compression.SpanID, fileSize compression.Offset) compression.Offset {
	if spanID == idx.MaxSpanID() {
		return fileSize
	}
	return compression.Offset(idx.points[spanID+1].In)
}

// StartUncompressedOffset returns the offset in the uncompressed stream of
// the first byte belonging to spanID.
func (idx *Index) StartUncompressedOffset(spanID compression.SpanID) compression.Offset {
	return compression.Offset(idx.points[spanID].Out)
}

// EndUncompressedOffset returns the offset in the uncompressed stream where
// spanID ends. For the last span that is fileSize, the uncompressed size.
func (idx *Index) EndUncompressedOffset(spanID compression.SpanID, fileSize compression.Offset) compression.Offset {
	if spanID == idx.MaxSpanID() {
		return fileSize
	}
	return compression.Offset(idx.points[spanID+1].Out)
}

// ExtractDataFromBuffer decompresses uncompressedSize bytes starting at
// uncompressedOffset. compressedBuf holds the compressed stream starting at
// StartCompressedOffset(spanID) and must reach far enough to produce the
// requested bytes.
func (idx *Index) ExtractDataFromBuffer(compressedBuf []byte, uncompressedSize, uncompressedOffset compression.Offset, spanID compression.SpanID) ([]byte, error) {
	if len(compressedBuf) == 0 {
		return nil, fmt.Errorf("empty compressed buffer")
	}
	if err := idx.checkRange(uncompressedSize, uncompressedOffset, spanID); err != nil {
		return nil, err
	}
	if uncompressedSize == 0 {
		return []byte{}, nil
	}
	return idx.extract(bytes.NewReader(compressedBuf), uncompressedSize, uncompressedOffset, spanID)
}

// ExtractDataFromFile decompresses uncompressedSize bytes starting at
// uncompressedOffset from the gzip file the index was built for.
func (idx *Index) ExtractDataFromFile(fileName string, uncompressedSize, uncompressedOffset compression.Offset) ([]byte, error) {
	spanID := idx.UncompressedOffsetToSpanID(uncompressedOffset)
	if err := idx.checkRange(uncompressedSize, uncompressedOffset, spanID); err != nil {
		return nil, err
	}
	if uncompressedSize == 0 {
		return []byte{}, nil
	}

	f, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer f.Close()
	if _, err := f.Seek(int64(idx.StartCompressedOffset(spanID)), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek failed: %w", err)
	}
	return idx.extract(bufio.NewReader(f), uncompressedSize, uncompressedOffset, spanID)
}

func (idx *Index) checkRange(uncompressedSize, uncompressedOffset compression.Offset, spanID compression.SpanID) error {
	if uncompressedSize < 0 {
		return fmt.Errorf("invalid uncompressed size: %d", uncompressedSize)
	}
	if spanID < 0 || spanID > idx.MaxSpanID() {
		return fmt.Errorf("span %d out of range [0, %d]", spanID, idx.MaxSpanID())
	}
	if int64(uncompressedOffset) < idx.points[spanID].Out {
		return fmt.Errorf("offset %d precedes span %d starting at %d", uncompressedOffset, spanID, idx.points[spanID].Out)
	}
	return nil
}

// extract resumes decompression at checkpoint spanID. r is positioned at
// StartCompressedOffset(spanID).
func (idx *Index) extract(r flate.Reader, uncompressedSize, uncompressedOffset compression.Offset, spanID compression.SpanID) ([]byte, error) {
	pt := &idx.points[spanID]

	var bitsVal byte
	if pt.Bits > 0 {
		// The low bits of the byte at In-1 were consumed before the block
		// boundary; the high Bits bits belong to the next block.
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("could not read bits byte: %w", err)
		}
		bitsVal = b >> (8 - pt.Bits)
	}

	// Before the first full window of output, the head of Window is padding
	// and must not be reachable by back-references.
	hist := min(pt.Out, winSize)
	dec := flate.NewReaderDict(r, pt.Window[winSize-hist:])
	if pt.Bits > 0 {
		dec.InjectBits(pt.Bits, bitsVal)
	}

	if _, err := dec.Discard(int64(uncompressedOffset) - pt.Out); err != nil {
		return nil, fmt.Errorf("could not skip to offset %d: %w", uncompressedOffset, err)
	}
	result := make([]byte, uncompressedSize)
	if n, err := io.ReadFull(dec, result); err != nil {
		return nil, fmt.Errorf("extracted %d of %d bytes: %w", n, uncompressedSize, err)
	}
	return result, nil
}

var _ compression.Extractor = (*Index)(nil)
