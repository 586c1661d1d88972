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
	"errors"
	"fmt"
	"io"
	"testing"
	"testing/iotest"

	"github.com/awslabs/soci-inflate/compression"
	"github.com/awslabs/soci-inflate/util/testutil"
	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/require"
)

var helloStored = append([]byte{0x01, 0x0D, 0x00, 0xF2, 0xFF}, "Hello, World!"...)

func TestStoredBlock(t *testing.T) {
	f := NewReader(bytes.NewReader(helloStored))
	out, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "Hello, World!", string(out))
	require.True(t, f.AtEOF())
	require.NoError(t, f.Close())
	require.EqualValues(t, 1, f.BlockCount(StoredBlock))
	require.EqualValues(t, 13, f.TotalOut())
	require.EqualValues(t, len(helloStored), f.ByteOffset())
}

func TestFixedBlockEndOfBlockOnly(t *testing.T) {
	// BFINAL=1, BTYPE=01, then the 7-bit all-zero code for symbol 256.
	f := NewReader(bytes.NewReader([]byte{0x03, 0x00}))
	out, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Empty(t, out)
	require.True(t, f.AtEOF())
	require.EqualValues(t, 1, f.BlockCount(FixedHuffmanBlock))
}

// dynamicEndOfBlockOnly builds a final dynamic block whose literal/length
// code holds only the end-of-block symbol and whose distance code is empty.
func dynamicEndOfBlockOnly() []byte {
	var w testutil.BitWriter
	w.WriteBits(1, 1)  // BFINAL
	w.WriteBits(2, 2)  // BTYPE=10
	w.WriteBits(0, 5)  // HLIT: 257 codes
	w.WriteBits(0, 5)  // HDIST: 1 code
	w.WriteBits(14, 4) // HCLEN: 18 code length codes

	// Code length code: 18 -> "0", 0 -> "10", 1 -> "11".
	clens := map[int]uint64{18: 1, 0: 2, 1: 2}
	for _, sym := range codeOrder[:18] {
		w.WriteBits(clens[sym], 3)
	}
	w.WriteCode(0, 1)
	w.WriteBits(138-11, 7) // 138 zeros
	w.WriteCode(0, 1)
	w.WriteBits(118-11, 7) // 118 zeros, symbols 0..255 done
	w.WriteCode(0b11, 2)   // symbol 256 has length 1
	w.WriteCode(0b10, 2)   // the only distance code is unused

	w.WriteCode(0, 1) // end of block
	return w.Bytes()
}

func TestDynamicBlockSingleSymbol(t *testing.T) {
	f := NewReader(bytes.NewReader(dynamicEndOfBlockOnly()))
	out, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Empty(t, out)
	require.True(t, f.AtEOF())
	require.EqualValues(t, 1, f.BlockCount(DynamicHuffmanBlock))
}

func fixedBlock(final bool, emit func(w *testutil.BitWriter)) []byte {
	var w testutil.BitWriter
	if final {
		w.WriteBits(1, 1)
	} else {
		w.WriteBits(0, 1)
	}
	w.WriteBits(1, 2)
	emit(&w)
	return w.Bytes()
}

// fixedLiteral writes the fixed Huffman code of a literal below 144.
func fixedLiteral(w *testutil.BitWriter, c byte) {
	w.WriteCode(0x30+uint64(c), 8)
}

func TestCorruptStreams(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		class string
		out   string
	}{
		{
			name:  "empty input",
			input: nil,
			class: compression.ClassTruncated,
		},
		{
			name:  "reserved block type",
			input: []byte{0x07},
			class: compression.ClassBitstream,
		},
		{
			name:  "stored length complement mismatch",
			input: []byte{0x01, 0x0D, 0x00, 0x00, 0x00},
			class: compression.ClassBitstream,
		},
		{
			name:  "stored block cut short",
			input: helloStored[:10],
			class: compression.ClassTruncated,
			out:   "Hello",
		},
		{
			name: "missing final block",
			input: fixedBlock(false, func(w *testutil.BitWriter) {
				fixedLiteral(w, 'x')
				w.WriteCode(0, 7)
			}),
			class: compression.ClassTruncated,
			out:   "x",
		},
		{
			name: "distance beyond history",
			input: fixedBlock(true, func(w *testutil.BitWriter) {
				fixedLiteral(w, 'a')
				w.WriteCode(0b0000001, 7) // length 3
				w.WriteCode(1, 5)         // distance 2
			}),
			class: compression.ClassBitstream,
			out:   "a",
		},
		{
			name: "distance symbol 30",
			input: fixedBlock(true, func(w *testutil.BitWriter) {
				fixedLiteral(w, 'a')
				w.WriteCode(0b0000001, 7)
				w.WriteCode(30, 5)
			}),
			class: compression.ClassBitstream,
			out:   "a",
		},
		{
			name: "literal/length symbol 286",
			input: fixedBlock(true, func(w *testutil.BitWriter) {
				w.WriteCode(0b11000000+6, 8)
			}),
			class: compression.ClassBitstream,
		},
		{
			name: "incomplete code length code",
			input: func() []byte {
				var w testutil.BitWriter
				w.WriteBits(1, 1)
				w.WriteBits(2, 2)
				w.WriteBits(0, 5)
				w.WriteBits(0, 5)
				w.WriteBits(0, 4)
				for _, l := range []uint64{0, 0, 2, 2} {
					w.WriteBits(l, 3)
				}
				return w.Bytes()
			}(),
			class: compression.ClassBitstream,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := NewReader(bytes.NewReader(tc.input))
			out, err := io.ReadAll(f)
			require.Error(t, err)
			require.Equal(t, tc.class, compression.ErrorClass(err), "error: %v", err)
			require.Equal(t, tc.out, string(out))
			require.False(t, f.AtEOF())

			// Errors are sticky.
			n, err2 := f.Read(make([]byte, 16))
			require.Zero(t, n)
			require.Equal(t, err, err2)
			require.Equal(t, err, f.Err())
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	_, err := io.ReadAll(NewReader(bytes.NewReader([]byte{0x07})))
	require.True(t, errors.Is(err, errdefs.ErrInvalidArgument))

	_, err = io.ReadAll(NewReader(bytes.NewReader(helloStored[:8])))
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestRoundTrip(t *testing.T) {
	r := testutil.NewTestRand(t)
	inputs := map[string][]byte{
		"empty":        {},
		"compressible": r.CompressibleData(300 << 10),
		"random":       r.RandomByteData(100 << 10),
		"text":         r.RandomByteDataRange(70<<10, 80<<10),
	}
	for name, data := range inputs {
		for _, level := range []int{-2, 0, 1, 5, 9} {
			t.Run(fmt.Sprintf("%s/level=%d", name, level), func(t *testing.T) {
				compressed := testutil.DeflateCompress(data, level)

				f := NewReader(iotest.OneByteReader(bytes.NewReader(compressed)))
				out, err := io.ReadAll(iotest.HalfReader(f))
				require.NoError(t, err)
				require.True(t, bytes.Equal(data, out), "decompressed data does not match")
				require.EqualValues(t, len(data), f.TotalOut())
				require.EqualValues(t, len(data), f.DecompressedTotal())

				br := f.BitReader()
				br.AlignToByte()
				eof, err := br.AtEOF()
				require.NoError(t, err)
				require.True(t, eof, "decoder stopped before the end of the stream")
			})
		}
	}
}

func TestDiscard(t *testing.T) {
	r := testutil.NewTestRand(t)
	data := r.CompressibleData(200 << 10)
	compressed := testutil.DeflateCompress(data, 6)

	f := NewReader(bytes.NewReader(compressed))
	n, err := f.Discard(100000)
	require.NoError(t, err)
	require.EqualValues(t, 100000, n)

	rest, err := io.ReadAll(f)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data[100000:], rest))

	f = NewReader(bytes.NewReader(compressed))
	n, err = f.Discard(int64(len(data)) + 10)
	require.Equal(t, io.EOF, err)
	require.EqualValues(t, len(data), n)
	require.True(t, f.AtEOF())
}

func TestDiscardReportsCorruption(t *testing.T) {
	f := NewReader(bytes.NewReader([]byte{0x01, 0x0D, 0x00, 0x00, 0x00}))
	_, err := f.Discard(1)
	require.True(t, compression.IsBitstreamError(err), "got %v", err)
}

func TestDictionary(t *testing.T) {
	r := testutil.NewTestRand(t)
	dict := r.RandomByteData(WindowSize)
	data := append(append([]byte{}, dict[1000:11000]...), dict[len(dict)-5000:]...)
	compressed := testutil.DeflateCompressDict(data, dict, 9)

	out, err := io.ReadAll(NewReaderDict(bytes.NewReader(compressed), dict))
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, out))

	// Without the dictionary the back-references have nothing to point at.
	_, err = io.ReadAll(NewReader(bytes.NewReader(compressed)))
	require.True(t, compression.IsBitstreamError(err), "got %v", err)
}

func TestReset(t *testing.T) {
	f := NewReader(bytes.NewReader([]byte{0x07}))
	_, err := io.ReadAll(f)
	require.Error(t, err)

	require.NoError(t, f.Reset(bytes.NewReader(helloStored), nil))
	out, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "Hello, World!", string(out))
}

type checkpoint struct {
	in     int64
	out    int64
	nbits  uint8
	bits   byte
	window [WindowSize]byte
}

func TestOnBlockEndCheckpoints(t *testing.T) {
	r := testutil.NewTestRand(t)
	data := r.CompressibleData(1 << 20)
	compressed := testutil.DeflateCompress(data, 5)

	var (
		checkpoints []checkpoint
		finals      int
	)
	f := NewReader(bytes.NewReader(compressed))
	f.OnBlockEnd = func(final bool) {
		if final {
			finals++
			require.EqualValues(t, len(data), f.DecompressedTotal())
			return
		}
		nbits, bits := f.BitsState()
		checkpoints = append(checkpoints, checkpoint{
			in:     f.ByteOffset(),
			out:    f.DecompressedTotal(),
			nbits:  nbits,
			bits:   bits,
			window: f.Window(),
		})
	}
	out, err := io.ReadAll(f)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, out))
	require.Equal(t, 1, finals)
	require.NotEmpty(t, checkpoints, "expected more than one block")

	var blocks int64
	for _, bt := range []BlockType{StoredBlock, FixedHuffmanBlock, DynamicHuffmanBlock} {
		blocks += f.BlockCount(bt)
	}
	require.EqualValues(t, len(checkpoints)+1, blocks)

	// Decoding can resume from any block boundary given the window and the
	// leftover bits of the partially consumed byte.
	for i, cp := range checkpoints {
		start := cp.in
		if cp.nbits > 0 {
			start++
		}
		f := NewReaderDict(bytes.NewReader(compressed[start:]), cp.window[:])
		if cp.nbits > 0 {
			f.InjectBits(cp.nbits, cp.bits)
		}
		rest, err := io.ReadAll(f)
		require.NoError(t, err, "checkpoint %d", i)
		require.True(t, bytes.Equal(data[cp.out:], rest), "checkpoint %d", i)
	}
}

func TestSharedBitReader(t *testing.T) {
	// Two raw streams back to back, decoded with one BitReader.
	input := append(append([]byte{}, helloStored...), 0x03, 0x00)
	input = append(input, helloStored...)
	br := NewBitReader(bytes.NewReader(input))

	var got []string
	for {
		eof, err := br.AtEOF()
		require.NoError(t, err)
		if eof {
			break
		}
		out, err := io.ReadAll(NewReaderBits(br, nil))
		require.NoError(t, err)
		got = append(got, string(out))
		br.AlignToByte()
	}
	require.Equal(t, []string{"Hello, World!", "", "Hello, World!"}, got)
}
