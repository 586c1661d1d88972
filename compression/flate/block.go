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
	"fmt"
	"io"
)

// BlockType identifies the encoding of a DEFLATE block (BTYPE in RFC 1951).
type BlockType uint8

const (
	StoredBlock BlockType = iota
	FixedHuffmanBlock
	DynamicHuffmanBlock
	reservedBlock
)

func (t BlockType) String() string {
	switch t {
	case StoredBlock:
		return "stored"
	case FixedHuffmanBlock:
		return "fixed"
	case DynamicHuffmanBlock:
		return "dynamic"
	}
	return fmt.Sprintf("reserved(%d)", uint8(t))
}

// RFC 1951 section 3.2.5: base values and extra bit counts for the
// length symbols 257..285 and the distance symbols 0..29.
var (
	lengthBase = [...]uint16{
		3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
		35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258}
	lengthExtra = [...]uint8{
		0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
		3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0}
	distBase = [...]uint16{
		1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
		257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145,
		8193, 12289, 16385, 24577}
	distExtra = [...]uint8{
		0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
		7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13}
)

// RFC 1951 section 3.2.7: order in which code length code lengths are sent.
var codeOrder = [...]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// blockState is one state of the block decoder. step makes as much progress
// as it can and returns when the state changed, when decoded output has to be
// flushed to make room in the window, or when an error was recorded in f.err.
//
// The states are
//
//	headerState -> storedState | huffmanState -> headerState ... -> doneState
type blockState interface {
	step(f *Decompressor)
}

// headerState reads BFINAL and BTYPE and sets up the block body.
type headerState struct{}

func (headerState) step(f *Decompressor) {
	hdr, err := f.br.ReadBits(1 + 2)
	if err != nil {
		f.setErr(err)
		return
	}
	f.final = hdr&1 == 1
	f.blockType = BlockType(hdr >> 1)

	switch f.blockType {
	case StoredBlock:
		f.readStoredHeader()
	case FixedHuffmanBlock:
		f.state = &huffmanState{lit: &fixedLiteralTable, dist: &fixedDistTable}
	case DynamicHuffmanBlock:
		if err := f.readDynamicTables(); err != nil {
			f.setErr(err)
			return
		}
		f.state = &huffmanState{lit: &f.h1, dist: &f.h2}
	default:
		f.setErr(f.br.corrupt("reserved block type"))
	}
}

// storedState copies the raw bytes of a stored block.
type storedState struct {
	remaining int
}

func (s *storedState) step(f *Decompressor) {
	for s.remaining > 0 {
		buf := f.dict.writeSlice()
		if len(buf) == 0 {
			f.toRead = f.dict.readFlush()
			return
		}
		if len(buf) > s.remaining {
			buf = buf[:s.remaining]
		}
		cnt, err := f.br.ReadFull(buf)
		s.remaining -= cnt
		f.dict.writeMark(cnt)
		if err != nil {
			f.setErr(err)
			return
		}
	}
	f.finishBlock()
}

// huffmanState decodes the body of a fixed or dynamic Huffman block. A
// back-reference that did not fit in the window is remembered in copyLen and
// copyDist and finished on the next step.
type huffmanState struct {
	lit, dist *huffmanTable

	copyLen  int
	copyDist int
}

func (s *huffmanState) step(f *Decompressor) {
	for {
		if s.copyLen > 0 {
			cnt, err := f.dict.copyBack(s.copyDist, s.copyLen)
			if err != nil {
				f.setErr(f.br.corrupt(err.Error()))
				return
			}
			s.copyLen -= cnt
			if s.copyLen > 0 || f.dict.availWrite() == 0 {
				f.toRead = f.dict.readFlush()
				return
			}
		}

		// Read literal and/or (length, distance) according to RFC section 3.2.3.
		v, err := s.lit.decode(f.br)
		if err != nil {
			f.setErr(err)
			return
		}
		switch {
		case v < 256:
			f.dict.pushLiteral(byte(v))
			if f.dict.availWrite() == 0 {
				f.toRead = f.dict.readFlush()
				return
			}
			continue
		case v == endBlockMarker:
			f.finishBlock()
			return
		case v >= maxNumLit:
			f.setErr(f.br.corrupt(fmt.Sprintf("invalid literal/length symbol %d", v)))
			return
		}

		idx := v - 257
		length := int(lengthBase[idx])
		if n := uint(lengthExtra[idx]); n > 0 {
			extra, err := f.br.ReadBits(n)
			if err != nil {
				f.setErr(err)
				return
			}
			length += int(extra)
		}

		d, err := s.dist.decode(f.br)
		if err != nil {
			f.setErr(err)
			return
		}
		if d >= maxNumDist {
			f.setErr(f.br.corrupt(fmt.Sprintf("invalid distance symbol %d", d)))
			return
		}
		dist := int(distBase[d])
		if n := uint(distExtra[d]); n > 0 {
			extra, err := f.br.ReadBits(n)
			if err != nil {
				f.setErr(err)
				return
			}
			dist += int(extra)
		}

		// No check on length; encoding can be prescient.
		s.copyLen, s.copyDist = length, dist
	}
}

// doneState is entered after the final block. It never produces output.
type doneState struct{}

func (doneState) step(f *Decompressor) {
	if f.err == nil {
		f.err = io.EOF
	}
}

// readStoredHeader reads LEN and NLEN of a stored block.
func (f *Decompressor) readStoredHeader() {
	// Discard current half-byte.
	f.br.AlignToByte()

	lens, err := f.br.ReadBits(32)
	if err != nil {
		f.setErr(err)
		return
	}
	n := uint16(lens)
	nn := uint16(lens >> 16)
	if nn != ^n {
		f.setErr(f.br.corrupt(fmt.Sprintf("stored block length %#04x does not match complement %#04x", n, nn)))
		return
	}
	f.state = &storedState{remaining: int(n)}
}

// readDynamicTables reads the code length code and the two code length
// sequences of a dynamic Huffman block into f.h1 and f.h2.
func (f *Decompressor) readDynamicTables() error {
	// HLIT[5], HDIST[5], HCLEN[4].
	hdr, err := f.br.ReadBits(5 + 5 + 4)
	if err != nil {
		return err
	}
	nlit := int(hdr&0x1F) + 257
	if nlit > maxNumLit {
		return f.br.corrupt(fmt.Sprintf("too many literal/length codes: %d", nlit))
	}
	ndist := int(hdr>>5&0x1F) + 1
	if ndist > maxNumDist {
		return f.br.corrupt(fmt.Sprintf("too many distance codes: %d", ndist))
	}
	// numCodes is 19, so nclen is always valid.
	nclen := int(hdr>>10&0xF) + 4

	// (HCLEN+4)*3 bits: code lengths in the magic codeOrder order.
	for i := 0; i < nclen; i++ {
		x, err := f.br.ReadBits(3)
		if err != nil {
			return err
		}
		f.codebits[codeOrder[i]] = uint8(x)
	}
	for i := nclen; i < len(codeOrder); i++ {
		f.codebits[codeOrder[i]] = 0
	}
	if err := f.h1.init(f.codebits[:]); err != nil {
		return f.br.corrupt("code length code: " + err.Error())
	}

	// HLIT + 257 code lengths, HDIST + 1 code lengths,
	// using the code length Huffman code.
	for i, n := 0, nlit+ndist; i < n; {
		x, err := f.h1.decode(f.br)
		if err != nil {
			return err
		}
		if x < 16 {
			// Actual length.
			f.bits[i] = uint8(x)
			i++
			continue
		}
		// Repeat previous length or zero.
		var rep int
		var nb uint
		var b uint8
		switch x {
		case 16:
			if i == 0 {
				return f.br.corrupt("repeat code with no previous length")
			}
			rep, nb, b = 3, 2, f.bits[i-1]
		case 17:
			rep, nb = 3, 3
		case 18:
			rep, nb = 11, 7
		default:
			return f.br.corrupt(fmt.Sprintf("invalid code length symbol %d", x))
		}
		extra, err := f.br.ReadBits(nb)
		if err != nil {
			return err
		}
		rep += int(extra)
		if i+rep > n {
			return f.br.corrupt("code length repeat overruns the table")
		}
		for j := 0; j < rep; j++ {
			f.bits[i] = b
			i++
		}
	}

	if f.bits[endBlockMarker] == 0 {
		return f.br.corrupt("no code for the end-of-block symbol")
	}
	if err := f.h1.init(f.bits[:nlit]); err != nil {
		return f.br.corrupt("literal/length code: " + err.Error())
	}
	if err := f.h2.init(f.bits[nlit : nlit+ndist]); err != nil {
		return f.br.corrupt("distance code: " + err.Error())
	}
	return nil
}
