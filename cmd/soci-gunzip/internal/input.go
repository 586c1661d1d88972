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
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/awslabs/soci-inflate/config"
	socihttp "github.com/awslabs/soci-inflate/util/http"
)

// StdinName is the file name that stands for standard input.
const StdinName = "-"

// OpenInput opens a local file, or stdin for StdinName.
func OpenInput(name string, stdin io.Reader) (io.ReadCloser, error) {
	if name == StdinName {
		return io.NopCloser(stdin), nil
	}
	return os.Open(name)
}

// OpenURL fetches a remote gzip blob with the configured retryable client.
func OpenURL(ctx context.Context, cfg *config.Config, rawURL string) (io.ReadCloser, error) {
	client := socihttp.NewRetryableClient(cfg.RetryableHTTPClientConfig)
	return socihttp.Fetch(ctx, client, rawURL)
}

// OutputName strips suffix from name. Names without the suffix are rejected.
func OutputName(name, suffix string) (string, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, suffix) || len(base) == len(suffix) {
		return "", fmt.Errorf("%s: unknown suffix -- ignored", name)
	}
	return strings.TrimSuffix(name, suffix), nil
}

// URLOutputName names the local file for a remote input after the last
// element of its path.
func URLOutputName(rawURL, suffix string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return OutputName(path.Base(u.Path), suffix)
}
