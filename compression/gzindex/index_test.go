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

package gzindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/awslabs/soci-inflate/compression"
	"github.com/awslabs/soci-inflate/util/testutil"
	"github.com/stretchr/testify/require"
)

func buildIndex(t *testing.T, gz []byte, spanSize int64) *Index {
	t.Helper()
	idx, err := Build(testutil.TestContext(t), bytes.NewReader(gz), spanSize)
	require.NoError(t, err)
	return idx
}

func TestIndexGeneration(t *testing.T) {
	t.Parallel()
	rng := testutil.NewTestRand(t)
	data := rng.CompressibleData(2 << 20)
	// Flushing bounds every block to 16K of output, so checkpoints land
	// within 16K past each span boundary.
	gz := testutil.GzipCompressFlushed(data, 6, "data.bin", 16<<10)

	idx := buildIndex(t, gz, 64<<10)
	require.Greater(t, int(idx.MaxSpanID()), 4, "expected several spans")
	require.EqualValues(t, 64<<10, idx.SpanSize())

	// The first checkpoint sits right after the header: 10 fixed bytes plus
	// the NUL-terminated name.
	require.EqualValues(t, 10+len("data.bin")+1, idx.StartCompressedOffset(0))
	require.EqualValues(t, 0, idx.StartUncompressedOffset(0))

	for i := compression.SpanID(1); i <= idx.MaxSpanID(); i++ {
		spanLen := idx.points[i].Out - idx.points[i-1].Out
		require.Greater(t, spanLen, int64(64<<10), "span %d too short", i)
		require.LessOrEqual(t, spanLen, int64(64<<10+16<<10), "span %d too long", i)
		require.Greater(t, idx.points[i].In, idx.points[i-1].In)
		require.Equal(t, idx.StartUncompressedOffset(i), idx.EndUncompressedOffset(i-1, 0))

		// The window is the 32K of output preceding the checkpoint.
		out := idx.points[i].Out
		require.True(t, bytes.Equal(data[out-winSize:out], idx.points[i].Window[:]), "window of checkpoint %d", i)
	}
	last := idx.MaxSpanID()
	require.EqualValues(t, len(gz), idx.EndCompressedOffset(last, compression.Offset(len(gz))))
	require.EqualValues(t, len(data), idx.EndUncompressedOffset(last, compression.Offset(len(data))))
}

func TestSerializationRoundTrip(t *testing.T) {
	t.Parallel()
	rng := testutil.NewTestRand(t)
	gz := testutil.GzipCompress(rng.CompressibleData(512<<10), 6, "")
	idx := buildIndex(t, gz, 100000)

	blob, err := idx.Bytes()
	require.NoError(t, err)
	require.Len(t, blob, blobHeaderSize+len(idx.points)*packedCheckpointSize)
	require.EqualValues(t, len(idx.points), binary.LittleEndian.Uint32(blob[0:4]))
	require.EqualValues(t, 100000, binary.LittleEndian.Uint64(blob[4:12]))

	idx2, err := Unmarshal(blob)
	require.NoError(t, err)
	require.Equal(t, idx.spanSize, idx2.spanSize)
	require.Equal(t, len(idx.points), len(idx2.points))
	for i := range idx.points {
		require.True(t, idx.points[i] == idx2.points[i], "checkpoint %d differs", i)
	}
}

func TestUnmarshalInvalid(t *testing.T) {
	t.Parallel()
	one := make([]byte, blobHeaderSize+packedCheckpointSize)
	binary.LittleEndian.PutUint32(one[0:4], 1)

	badBits := append([]byte{}, one...)
	badBits[blobHeaderSize+16] = 8

	tests := []struct {
		name string
		blob []byte
	}{
		{name: "empty", blob: nil},
		{name: "header only", blob: one[:blobHeaderSize]},
		{name: "short checkpoint", blob: one[:len(one)-1]},
		{name: "count too large", blob: binary.LittleEndian.AppendUint64(binary.LittleEndian.AppendUint32(nil, 2), 1024)},
		{name: "bits out of range", blob: badBits},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal(tc.blob)
			require.True(t, errors.Is(err, ErrInvalidIndex), "got %v", err)
		})
	}

	idx, err := Unmarshal(one)
	require.NoError(t, err)
	require.EqualValues(t, 0, idx.MaxSpanID())
}

func TestUncompressedOffsetToSpanID(t *testing.T) {
	t.Parallel()
	idx := &Index{points: []checkpoint{{Out: 0}, {Out: 100}, {Out: 250}}}
	tests := []struct {
		offset compression.Offset
		span   compression.SpanID
	}{
		{0, 0}, {99, 0}, {100, 1}, {249, 1}, {250, 2}, {1 << 40, 2},
	}
	for _, tc := range tests {
		require.Equal(t, tc.span, idx.UncompressedOffsetToSpanID(tc.offset), "offset %d", tc.offset)
	}
}

func TestExtraction(t *testing.T) {
	t.Parallel()
	rng := testutil.NewTestRand(t)
	var ents []testutil.TarEntry
	for i := 0; i < 40; i++ {
		ents = append(ents, testutil.File(fmt.Sprintf("file-%02d.bin", i), string(rng.CompressibleData(rng.IntN(64<<10)+1))))
	}
	ents = append(ents, testutil.Dir("empty/"), testutil.File("marker.txt", strings.Repeat("ABCDEFGH", 1000)))
	gz, tarBlob, err := testutil.BuildTarGz(ents, 6, testutil.WithGzipFilename("layer.tar"), testutil.WithGzipFlushInterval(32<<10))
	require.NoError(t, err)

	idx := buildIndex(t, gz, 128<<10)
	require.Greater(t, int(idx.MaxSpanID()), 2)

	gzFile, err := testutil.WriteTempFile(t.TempDir(), "layer-*.tar.gz", gz)
	require.NoError(t, err)

	ranges := []struct {
		offset, size int64
	}{
		{0, 512},
		{int64(bytes.Index(tarBlob, []byte("ABCDEFGH"))), 8000},
		{int64(len(tarBlob)) - 10, 10},
	}
	for i := 0; i < 20; i++ {
		off := rng.Int64N(int64(len(tarBlob)))
		ranges = append(ranges, struct{ offset, size int64 }{off, min(rng.Int64N(200<<10), int64(len(tarBlob))-off)})
	}

	for _, r := range ranges {
		t.Run(fmt.Sprintf("offset=%d,size=%d", r.offset, r.size), func(t *testing.T) {
			want := tarBlob[r.offset : r.offset+r.size]

			got, err := idx.ExtractDataFromFile(gzFile, compression.Offset(r.size), compression.Offset(r.offset))
			require.NoError(t, err)
			require.True(t, bytes.Equal(want, got), "file extraction mismatch")

			// Hand the extractor exactly the compressed spans covering the range.
			start := idx.UncompressedOffsetToSpanID(compression.Offset(r.offset))
			end := idx.UncompressedOffsetToSpanID(compression.Offset(r.offset + max(r.size-1, 0)))
			from := idx.StartCompressedOffset(start)
			to := idx.EndCompressedOffset(end, compression.Offset(len(gz)))
			got, err = idx.ExtractDataFromBuffer(gz[from:to], compression.Offset(r.size), compression.Offset(r.offset), start)
			require.NoError(t, err)
			require.True(t, bytes.Equal(want, got), "buffer extraction mismatch")
		})
	}
}

func TestExtractionErrors(t *testing.T) {
	t.Parallel()
	rng := testutil.NewTestRand(t)
	gz := testutil.GzipCompressFlushed(rng.CompressibleData(256<<10), 6, "", 16<<10)
	idx := buildIndex(t, gz, 64<<10)
	require.GreaterOrEqual(t, int(idx.MaxSpanID()), 1)

	_, err := idx.ExtractDataFromBuffer(nil, 10, 0, 0)
	require.Error(t, err)
	_, err = idx.ExtractDataFromBuffer(gz, -1, 0, 0)
	require.Error(t, err)
	_, err = idx.ExtractDataFromBuffer(gz, 10, 0, idx.MaxSpanID()+1)
	require.Error(t, err)

	// Offset before the span the buffer starts at.
	_, err = idx.ExtractDataFromBuffer(gz[idx.StartCompressedOffset(1):], 10, 0, 1)
	require.Error(t, err)

	// A buffer that stops short of the requested data.
	from := idx.StartCompressedOffset(0)
	_, err = idx.ExtractDataFromBuffer(gz[from:from+100], 100000, 0, 0)
	require.True(t, compression.IsTruncatedInputError(err), "got %v", err)

	out, err := idx.ExtractDataFromFile(filepath.Join(t.TempDir(), "missing.gz"), 0, 0)
	require.NoError(t, err)
	require.Empty(t, out)
	_, err = idx.ExtractDataFromFile(filepath.Join(t.TempDir(), "missing.gz"), 1, 0)
	require.Error(t, err)
}

// fixedCopyBlock is a final fixed-Huffman block holding one length-3
// back-reference followed by end-of-block. dist must be in 9..24.
func fixedCopyBlock(dist int) []byte {
	var w testutil.BitWriter
	w.WriteBits(1, 1) // final
	w.WriteBits(1, 2) // fixed Huffman
	w.WriteCode(1, 7) // length symbol 257: 3 bytes
	switch {
	case dist <= 12:
		w.WriteCode(6, 5) // distance 9..12
		w.WriteBits(uint64(dist-9), 2)
	case dist <= 16:
		w.WriteCode(7, 5) // distance 13..16
		w.WriteBits(uint64(dist-13), 2)
	default:
		w.WriteCode(8, 5) // distance 17..24
		w.WriteBits(uint64(dist-17), 3)
	}
	w.WriteCode(0, 7) // end of block
	return w.Bytes()
}

func TestExtractionShortHistory(t *testing.T) {
	t.Parallel()
	// A checkpoint taken after only 10 bytes of output: the rest of its
	// window is padding.
	var win [winSize]byte
	copy(win[winSize-10:], "0123456789")
	idx := &Index{spanSize: 8, points: []checkpoint{{}, {Out: 10, Window: win}}}

	got, err := idx.ExtractDataFromBuffer(fixedCopyBlock(10), 3, 10, 1)
	require.NoError(t, err)
	require.Equal(t, "012", string(got))

	_, err = idx.ExtractDataFromBuffer(fixedCopyBlock(20), 3, 10, 1)
	require.True(t, compression.IsBitstreamError(err), "got %v", err)
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()
	member := testutil.GzipCompress([]byte("hello"), 6, "")

	_, err := Build(context.Background(), bytes.NewReader(member), 0)
	require.Error(t, err)

	_, err = Build(context.Background(), bytes.NewReader([]byte("not gzip")), 1024)
	require.True(t, compression.IsFramingError(err), "got %v", err)

	two := append(append([]byte{}, member...), member...)
	_, err = Build(context.Background(), bytes.NewReader(two), 1024)
	require.ErrorIs(t, err, ErrMultiMember)

	corrupt := append([]byte{}, member...)
	corrupt[len(corrupt)-8] ^= 0xff
	_, err = Build(context.Background(), bytes.NewReader(corrupt), 1024)
	require.True(t, compression.IsIntegrityError(err), "got %v", err)
}
