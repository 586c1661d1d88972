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

// Package log keeps credentials carried in remote input URLs out of logs and
// error messages.
package log

import (
	"errors"
	"net/url"
)

// Redacted replaces every query value of a printed URL.
const Redacted = "redacted"

const invalidURL = "<invalid url>"

// RedactURL returns a printable form of u with its userinfo password and all
// query values hidden. u is not modified.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	if q := c.Query(); len(q) > 0 {
		for k := range q {
			q.Set(k, Redacted)
		}
		c.RawQuery = q.Encode()
	}
	return c.Redacted()
}

// RedactRawURL is RedactURL for an unparsed URL. A string that does not
// parse is replaced entirely.
func RedactRawURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return invalidURL
	}
	return RedactURL(u)
}

// RedactError redacts the URL of the first *url.Error in err's chain in place
// and returns err.
func RedactError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = RedactRawURL(urlErr.URL)
	}
	return err
}
