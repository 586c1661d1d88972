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

package compression

// Extractor specifies the interface for extracting a chunk of uncompressed data
// from a compressed stream with the help of a span index.
//
// To extract a chunk of uncompressed data `[start:end]`, a caller:
//  1. gets the span id of both `start` and `end` (thus `UncompressedOffsetToSpanID`);
//  2. finds where those spans are located in the compressed stream
//     (thus `StartCompressedOffset` and `EndCompressedOffset`);
//  3. decompresses only those compressed bytes, one span at a time if it wants
//     to parallelize (thus `StartUncompressedOffset` and `EndUncompressedOffset`).
type Extractor interface {
	// ExtractDataFromBuffer extracts the uncompressed data from `compressedBuf`,
	// which starts at the compressed offset of `spanID`.
	ExtractDataFromBuffer(compressedBuf []byte, uncompressedSize, uncompressedOffset Offset, spanID SpanID) ([]byte, error)
	// ExtractDataFromFile extracts the uncompressed data directly from a compressed file.
	ExtractDataFromFile(fileName string, uncompressedSize, uncompressedOffset Offset) ([]byte, error)
	// Close releases any resources held by the interface implementation.
	Close()

	// Bytes serializes the index for storage.
	Bytes() ([]byte, error)
	// MaxSpanID returns the maximum span ID.
	MaxSpanID() SpanID
	// SpanSize returns the span size the index was built with.
	SpanSize() Offset

	// UncompressedOffsetToSpanID returns the ID of the span containing given `offset`.
	UncompressedOffsetToSpanID(offset Offset) SpanID
	// StartCompressedOffset returns the offset (in compressed stream)
	// of the 1st byte belonging to `spanID`.
	StartCompressedOffset(spanID SpanID) Offset
	// EndCompressedOffset returns the offset (in compressed stream)
	// where `spanID` ends. If it's the last span, `fileSize` is returned.
	EndCompressedOffset(spanID SpanID, fileSize Offset) Offset
	// StartUncompressedOffset returns the offset (in uncompressed stream)
	// of the 1st byte belonging to `spanID`.
	StartUncompressedOffset(spanID SpanID) Offset
	// EndUncompressedOffset returns the offset (in uncompressed stream)
	// where `spanID` ends. If it's the last span, `fileSize` is returned.
	EndUncompressedOffset(spanID SpanID, fileSize Offset) Offset
}
