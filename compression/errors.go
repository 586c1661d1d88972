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

import (
	"errors"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
)

// Error classes. Every decode failure surfaced by this module is exactly one
// of these, and all of them are terminal for the stream they occur in.
const (
	ClassFraming   = "framing"
	ClassBitstream = "bitstream"
	ClassTruncated = "truncated"
	ClassIntegrity = "integrity"
)

// FramingError reports a malformed container header or trailer: bad magic,
// unsupported compression method or flags, trailing garbage.
type FramingError struct {
	Offset int64
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error at offset %d: %s", e.Offset, e.Reason)
}

func (e *FramingError) Unwrap() error { return errdefs.ErrInvalidArgument }

// BitstreamError reports an invalid DEFLATE bit stream: bad Huffman code or
// code table, reserved block type, stored length mismatch, or a
// back-reference reaching beyond the available history.
type BitstreamError struct {
	Offset int64
	Reason string
}

func (e *BitstreamError) Error() string {
	return fmt.Sprintf("corrupt deflate stream at offset %d: %s", e.Offset, e.Reason)
}

func (e *BitstreamError) Unwrap() error { return errdefs.ErrInvalidArgument }

// TruncatedInputError reports that the input ended before a block or a
// member was complete.
type TruncatedInputError struct {
	Offset int64
	Reason string
}

func (e *TruncatedInputError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("truncated input at offset %d", e.Offset)
	}
	return fmt.Sprintf("truncated input at offset %d: %s", e.Offset, e.Reason)
}

func (e *TruncatedInputError) Unwrap() error { return io.ErrUnexpectedEOF }

// IntegrityError reports a trailer whose CRC32 or size does not match the
// bytes actually produced. All of those bytes have been delivered by the time
// this error is returned.
type IntegrityError struct {
	Offset   int64
	Field    string
	Expected uint32
	Actual   uint32
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error at offset %d: %s mismatch (trailer %#08x, computed %#08x)",
		e.Offset, e.Field, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error { return errdefs.ErrDataLoss }

// IsFramingError returns true if err is or wraps a FramingError.
func IsFramingError(err error) bool {
	var e *FramingError
	return errors.As(err, &e)
}

// IsBitstreamError returns true if err is or wraps a BitstreamError.
func IsBitstreamError(err error) bool {
	var e *BitstreamError
	return errors.As(err, &e)
}

// IsTruncatedInputError returns true if err is or wraps a TruncatedInputError.
func IsTruncatedInputError(err error) bool {
	var e *TruncatedInputError
	return errors.As(err, &e)
}

// IsIntegrityError returns true if err is or wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var e *IntegrityError
	return errors.As(err, &e)
}

// ErrorClass maps err onto one of the Class constants. Errors that are not
// decode errors (I/O failures of the source, for example) map to "".
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case IsFramingError(err):
		return ClassFraming
	case IsBitstreamError(err):
		return ClassBitstream
	case IsTruncatedInputError(err):
		return ClassTruncated
	case IsIntegrityError(err):
		return ClassIntegrity
	}
	return ""
}
