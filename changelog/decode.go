/*
 * Copyright 2026 The Confcore Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package changelog

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeEntries builds a changelog entry list from a generic config
// source (YAML/JSON/TOML decoded into []map[string]any, the shape a
// deployment's changelog.yaml naturally unmarshals to). GoFunc and
// Script step fields decode as plain strings; the engine resolves
// GoFunc against whatever RegisterFunc calls cmd/confcored makes before
// Apply runs.
func DecodeEntries(raw []map[string]any) ([]Entry, error) {
	entries := make([]Entry, len(raw))
	for i, m := range raw {
		var e Entry
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &e,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, fmt.Errorf("build decoder for changelog entry %d: %w", i, err)
		}
		if err := dec.Decode(m); err != nil {
			return nil, fmt.Errorf("decode changelog entry %d: %w", i, err)
		}
		entries[i] = e
	}
	return entries, nil
}
