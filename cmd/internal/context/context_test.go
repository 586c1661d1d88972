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

package context

import (
	"context"
	"testing"
)

func TestGetValue(t *testing.T) {
	ctx := WithValue(context.Background(), SessionKey, "abc")

	v, err := GetValue[string](ctx, SessionKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "abc" {
		t.Fatalf("expected %q, got %q", "abc", v)
	}

	if _, err := GetValue[int](ctx, SessionKey); err == nil {
		t.Fatal("expected a type mismatch error")
	}
	if _, err := GetValue[string](ctx, ConfigKey); err == nil {
		t.Fatal("expected a missing key error")
	}
}
