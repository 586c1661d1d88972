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

package internal

import (
	"github.com/awslabs/soci-inflate/compression"
)

// Exit statuses of soci-gunzip.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitCorrupt   = 2
	ExitIntegrity = 3
)

// ExitCode maps err onto an exit status. When err joins several failures the
// most severe one wins.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case compression.IsIntegrityError(err):
		return ExitIntegrity
	case compression.IsFramingError(err), compression.IsBitstreamError(err), compression.IsTruncatedInputError(err):
		return ExitCorrupt
	default:
		return ExitError
	}
}
