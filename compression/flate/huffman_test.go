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

	"github.com/awslabs/soci-inflate/compression"
	"github.com/awslabs/soci-inflate/util/testutil"
	"github.com/google/go-cmp/cmp"
)

func TestCanonicalCodes(t *testing.T) {
	tests := []struct {
		name    string
		lengths []uint8
		codes   []uint16
	}{
		{
			name:    "rfc 1951 section 3.2.2 first example",
			lengths: []uint8{2, 1, 3, 3},
			codes:   []uint16{0b10, 0b0, 0b110, 0b111},
		},
		{
			name:    "rfc 1951 section 3.2.2 second example",
			lengths: []uint8{3, 3, 3, 3, 3, 2, 4, 4},
			codes:   []uint16{0b010, 0b011, 0b100, 0b101, 0b110, 0b00, 0b1110, 0b1111},
		},
		{
			name:    "unused symbols get no code",
			lengths: []uint8{0, 1, 0, 1},
			codes:   []uint16{0, 0b0, 0, 0b1},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.codes, canonicalCodes(tc.lengths)); diff != "" {
				t.Fatalf("unexpected codes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHuffmanTableInit(t *testing.T) {
	tests := []struct {
		name    string
		lengths []uint8
		wantErr error
	}{
		{
			name:    "complete code",
			lengths: []uint8{2, 1, 3, 3},
		},
		{
			name:    "over-subscribed: two 1-bit codes and a 2-bit code",
			lengths: []uint8{1, 1, 2},
			wantErr: errOverSubscribed,
		},
		{
			name:    "incomplete with two symbols",
			lengths: []uint8{1, 2},
			wantErr: errIncompleteLength,
		},
		{
			name:    "single symbol is legal",
			lengths: []uint8{0, 0, 1},
		},
		{
			name:    "empty table is legal to build",
			lengths: []uint8{0, 0, 0},
		},
		{
			name:    "length above 15",
			lengths: []uint8{16, 1},
			wantErr: errCodeTooLong,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var h huffmanTable
			err := h.init(tc.lengths)
			if err != tc.wantErr {
				t.Fatalf("init(%v) = %v, expected %v", tc.lengths, err, tc.wantErr)
			}
		})
	}
}

func TestHuffmanTableDecode(t *testing.T) {
	lengths := []uint8{3, 3, 3, 3, 3, 2, 4, 4}
	codes := canonicalCodes(lengths)
	var h huffmanTable
	if err := h.init(lengths); err != nil {
		t.Fatal(err)
	}

	syms := []int{5, 0, 7, 6, 1, 2, 3, 4, 5, 5, 7}
	var w testutil.BitWriter
	for _, s := range syms {
		w.WriteCode(uint64(codes[s]), uint(lengths[s]))
	}
	br := NewBitReader(bytes.NewReader(w.Bytes()))
	for i, want := range syms {
		got, err := h.decode(br)
		if err != nil {
			t.Fatalf("symbol %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("symbol %d: got %d, expected %d", i, got, want)
		}
	}
}

func TestHuffmanTableDecodeLongCodes(t *testing.T) {
	// 2^-1 + 2^-2 + ... + 2^-14 + 2*2^-15 = 1, so lengths 1..15 plus a
	// second 15 form a complete code that exercises the slow path.
	lengths := make([]uint8, 16)
	for i := 0; i < 15; i++ {
		lengths[i] = uint8(i + 1)
	}
	lengths[15] = 15
	codes := canonicalCodes(lengths)
	var h huffmanTable
	if err := h.init(lengths); err != nil {
		t.Fatal(err)
	}

	var w testutil.BitWriter
	for s := len(lengths) - 1; s >= 0; s-- {
		w.WriteCode(uint64(codes[s]), uint(lengths[s]))
	}
	br := NewBitReader(bytes.NewReader(w.Bytes()))
	for want := len(lengths) - 1; want >= 0; want-- {
		got, err := h.decode(br)
		if err != nil {
			t.Fatalf("decoding symbol %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("got symbol %d, expected %d", got, want)
		}
	}
}

func TestHuffmanTableSingleSymbol(t *testing.T) {
	var h huffmanTable
	if err := h.init([]uint8{0, 0, 0, 1}); err != nil {
		t.Fatal(err)
	}

	// 0b10: a zero bit decodes symbol 3, a one bit is not a code.
	br := NewBitReader(bytes.NewReader([]byte{0b10}))
	sym, err := h.decode(br)
	if err != nil || sym != 3 {
		t.Fatalf("decode = %d, %v; expected symbol 3", sym, err)
	}
	if count, _ := br.BitsState(); count != 7 {
		t.Fatalf("decoding the single symbol must consume one bit, %d bits left", count)
	}
	if _, err := h.decode(br); !compression.IsBitstreamError(err) {
		t.Fatalf("expected bitstream error, got %v", err)
	}
}

func TestHuffmanTableEmpty(t *testing.T) {
	var h huffmanTable
	if err := h.init(make([]uint8, 30)); err != nil {
		t.Fatal(err)
	}
	br := NewBitReader(bytes.NewReader([]byte{0}))
	if _, err := h.decode(br); !compression.IsBitstreamError(err) {
		t.Fatalf("expected bitstream error, got %v", err)
	}
}

func TestHuffmanTableTruncatedCode(t *testing.T) {
	lengths := make([]uint8, 16)
	for i := 0; i < 15; i++ {
		lengths[i] = uint8(i + 1)
	}
	lengths[15] = 15
	var h huffmanTable
	if err := h.init(lengths); err != nil {
		t.Fatal(err)
	}
	// Eight one bits are a prefix of the 9-bit and longer codes only.
	br := NewBitReader(bytes.NewReader([]byte{0xFF}))
	if _, err := h.decode(br); !compression.IsTruncatedInputError(err) {
		t.Fatalf("expected truncated input error, got %v", err)
	}
}

func TestFixedTables(t *testing.T) {
	fixedHuffmanTablesInit()

	// Symbol 256 has the all-zero 7-bit code.
	br := NewBitReader(bytes.NewReader([]byte{0}))
	sym, err := fixedLiteralTable.decode(br)
	if err != nil || sym != endBlockMarker {
		t.Fatalf("decode = %d, %v; expected end of block", sym, err)
	}

	var w testutil.BitWriter
	w.WriteCode(0b00110000+'A', 8) // literals 0-143 use codes 00110000 onward
	w.WriteCode(0b11111, 5)        // distance symbol 31
	br = NewBitReader(bytes.NewReader(w.Bytes()))
	if sym, err := fixedLiteralTable.decode(br); err != nil || sym != 'A' {
		t.Fatalf("decode = %d, %v; expected 'A'", sym, err)
	}
	if sym, err := fixedDistTable.decode(br); err != nil || sym != 31 {
		t.Fatalf("decode = %d, %v; expected distance symbol 31", sym, err)
	}
}
