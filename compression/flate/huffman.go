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
	"math/bits"
	"sync"
)

const (
	maxCodeLen = 15 // DEFLATE caps code lengths at 15 bits
	// The next three numbers come from the RFC section 3.2.7, with the
	// additional proviso in section 3.2.5 which implies that distance codes
	// 30 and 31 should never occur in compressed data.
	maxNumLit      = 286
	maxNumDist     = 30
	numCodes       = 19 // number of codes in Huffman meta-code
	endBlockMarker = 256

	// Codes of up to fastBits bits are resolved with a single table lookup;
	// longer ones fall back to the canonical walk.
	fastBits = 9
)

// tableError describes why a set of code lengths does not form a usable code.
type tableError string

func (e tableError) Error() string { return string(e) }

const (
	errCodeTooLong      = tableError("code length exceeds 15 bits")
	errOverSubscribed   = tableError("over-subscribed code lengths")
	errIncompleteLength = tableError("incomplete code lengths")
)

// huffmanTable decodes a canonical Huffman code built from per-symbol code
// lengths. Codes are assigned in order of (length, symbol) and arrive in the
// stream most significant bit first, which is the reverse of the order the
// BitReader hands out bits in.
//
// Decoding walks the code one bit at a time using count (the number of codes
// of each length) and symbol (symbols sorted by code), the same layout zlib's
// puff uses. fast is a lookup table for short codes keyed by the next
// fastBits input bits: each entry is symbol<<4 | length, with 0 meaning "not a
// short code".
type huffmanTable struct {
	count  [maxCodeLen + 1]uint16
	symbol []uint16
	fast   [1 << fastBits]uint16
	maxLen int
	nsyms  int
}

// init builds the table from lengths, indexed by symbol. A length of 0 marks
// an unused symbol. The lengths must form a complete prefix code, except that
// a code with a single used symbol is accepted, and so is an empty code; the
// latter fails only if something is ever decoded with it.
func (h *huffmanTable) init(lengths []uint8) error {
	*h = huffmanTable{symbol: h.symbol[:0]}

	for _, n := range lengths {
		if n > maxCodeLen {
			return errCodeTooLong
		}
		if n == 0 {
			continue
		}
		h.count[n]++
		h.nsyms++
		h.maxLen = max(h.maxLen, int(n))
	}
	if h.nsyms == 0 {
		return nil
	}

	// Check that no length over-subscribes the code space, and that the code
	// is complete (i.e., that we've assigned all 2-to-the-max possible bit
	// sequences).
	left := 1
	for l := 1; l <= maxCodeLen; l++ {
		left <<= 1
		left -= int(h.count[l])
		if left < 0 {
			return errOverSubscribed
		}
	}
	if left > 0 && h.nsyms != 1 {
		return errIncompleteLength
	}

	// Sort symbols by length, then by symbol value.
	var offs [maxCodeLen + 2]int
	for l := 1; l <= maxCodeLen; l++ {
		offs[l+1] = offs[l] + int(h.count[l])
	}
	if cap(h.symbol) < h.nsyms {
		h.symbol = make([]uint16, h.nsyms)
	}
	h.symbol = h.symbol[:h.nsyms]
	for sym, n := range lengths {
		if n != 0 {
			h.symbol[offs[n]] = uint16(sym)
			offs[n]++
		}
	}

	// Fill the lookup table for short codes. Every entry whose low n bits
	// equal the bit-reversed code maps to the symbol.
	for sym, code := range canonicalCodes(lengths) {
		n := int(lengths[sym])
		if n == 0 || n > fastBits {
			continue
		}
		reverse := int(bits.Reverse16(code)) >> (16 - n)
		for off := reverse; off < len(h.fast); off += 1 << n {
			h.fast[off] = uint16(sym)<<4 | uint16(n)
		}
	}
	return nil
}

// decode reads one symbol from br.
func (h *huffmanTable) decode(br *BitReader) (int, error) {
	if h.nsyms == 0 {
		return 0, br.corrupt("symbol decoded with an empty Huffman table")
	}
	v, avail, err := br.PeekBits(uint(h.maxLen))
	if err != nil {
		return 0, err
	}

	if e := h.fast[v&(1<<fastBits-1)]; e != 0 {
		if n := uint(e & 15); n <= avail {
			br.Consume(n)
			return int(e >> 4), nil
		}
	}

	// Canonical walk. code is the code read so far (msb first), first is the
	// first code of length l, and index is the position of that first code
	// in h.symbol.
	code, first, index := 0, 0, 0
	for l := 1; l <= h.maxLen; l++ {
		if uint(l) > avail {
			return 0, br.truncated("input ended inside a Huffman code")
		}
		code |= int(v>>(l-1)) & 1
		count := int(h.count[l])
		if code-first < count {
			br.Consume(uint(l))
			return int(h.symbol[index+code-first]), nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, br.corrupt("invalid Huffman code")
}

// canonicalCodes assigns codes to symbols per RFC 1951 section 3.2.2. The
// returned codes are in natural (msb first) order; unused symbols get 0.
func canonicalCodes(lengths []uint8) []uint16 {
	var blCount [maxCodeLen + 1]int
	for _, n := range lengths {
		if n != 0 && n <= maxCodeLen {
			blCount[n]++
		}
	}
	var nextCode [maxCodeLen + 1]int
	code := 0
	for l := 1; l <= maxCodeLen; l++ {
		code = (code + blCount[l-1]) << 1
		nextCode[l] = code
	}
	codes := make([]uint16, len(lengths))
	for sym, n := range lengths {
		if n != 0 && n <= maxCodeLen {
			codes[sym] = uint16(nextCode[n])
			nextCode[n]++
		}
	}
	return codes
}

// Initialize the fixed Huffman tables only once upon first use.
var (
	fixedOnce         sync.Once
	fixedLiteralTable huffmanTable
	fixedDistTable    huffmanTable
)

func fixedHuffmanTablesInit() {
	fixedOnce.Do(func() {
		// These come from the RFC section 3.2.6.
		var lengths [288]uint8
		for i := 0; i < 144; i++ {
			lengths[i] = 8
		}
		for i := 144; i < 256; i++ {
			lengths[i] = 9
		}
		for i := 256; i < 280; i++ {
			lengths[i] = 7
		}
		for i := 280; i < 288; i++ {
			lengths[i] = 8
		}
		if err := fixedLiteralTable.init(lengths[:]); err != nil {
			panic("impossible: fixed literal/length table: " + err.Error())
		}

		// All 32 distance codes are 5 bits; 30 and 31 are rejected when
		// decoded.
		var dist [32]uint8
		for i := range dist {
			dist[i] = 5
		}
		if err := fixedDistTable.init(dist[:]); err != nil {
			panic("impossible: fixed distance table: " + err.Error())
		}
	})
}
