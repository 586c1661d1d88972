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

// Offset will hold any file size and offset values
type Offset int64

// SpanID will hold any span related values (SpanID, MaxSpanID, etc)
type SpanID int32

// Stream formats understood by the decoders in this module.
const (
	Gzip    = "gzip"
	Deflate = "deflate"
	Unknown = "unknown"
)

// DetectFormat reports the stream format implied by the first bytes of a
// stream. Raw DEFLATE has no magic, so anything that is not gzip is reported
// as Unknown.
func DetectFormat(prefix []byte) string {
	if len(prefix) >= 2 && prefix[0] == 0x1f && prefix[1] == 0x8b {
		return Gzip
	}
	return Unknown
}
