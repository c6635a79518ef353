// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package validator runs GeoParquet metadata-shape checks used by the
// describe command's sanity pass. It does not scan row data and is not a
// substitute for full STAC item validation.
package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/stac-utils/stac-geoparquet/internal/geoparquet"
)

type Validator struct {
	rules []Rule
}

// MetadataOnlyRules returns the GeoParquet metadata-shape checks. The name is
// kept from the upstream rule set: this validator never scans row data, so
// every rule it runs is a metadata-only rule.
func MetadataOnlyRules() []Rule {
	return []Rule{
		RequiredGeoKey(),
		RequiredMetadataType(),
		RequiredVersion(),
		RequiredPrimaryColumn(),
		RequiredColumns(),
		PrimaryColumnInLookup(),
		RequiredColumnEncoding(),
		RequiredGeometryTypes(),
		OptionalCRS(),
		OptionalOrientation(),
		OptionalEdges(),
		OptionalBbox(),
		OptionalEpoch(),
		GeometryDataType(),
		GeometryUngrouped(),
		GeometryRepetition(),
	}
}

// New creates a new Validator. The metadataOnly argument is accepted for
// compatibility with the describe command's flag but has no effect: this
// validator only ever runs metadata-shape checks.
func New(metadataOnly bool) *Validator {
	return &Validator{rules: MetadataOnlyRules()}
}

type Report struct {
	Checks       []*Check `json:"checks"`
	MetadataOnly bool     `json:"metadataOnly"`
}

type Check struct {
	Title   string `json:"title"`
	Run     bool   `json:"run"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Validate opens and validates a GeoParquet file.
func (v *Validator) Validate(ctx context.Context, resource string) (*Report, error) {
	input, openErr := os.Open(resource)
	if openErr != nil {
		return nil, fmt.Errorf("failed to read from %q: %w", resource, openErr)
	}
	defer input.Close()

	reader, readerErr := file.NewParquetReader(input)
	if readerErr != nil {
		return nil, readerErr
	}
	defer reader.Close()

	return v.Report(ctx, reader)
}

// Report generates a validation report for an open GeoParquet file.
func (v *Validator) Report(ctx context.Context, reader *file.Reader) (*Report, error) {
	checks := make([]*Check, len(v.rules))
	for i, rule := range v.rules {
		checks[i] = &Check{Title: rule.Title()}
	}

	report := &Report{Checks: checks, MetadataOnly: true}

	if err := run(v, checks, reader); err != nil {
		return report, nil
	}

	keyValueMetadata := reader.MetaData().KeyValueMetadata()

	metadataValue, metadataErr := geoparquet.GetMetadataValue(keyValueMetadata)
	if metadataErr != nil {
		return nil, metadataErr
	}

	metadataMap := MetadataMap{}
	if err := json.Unmarshal([]byte(metadataValue), &metadataMap); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	if err := run(v, checks, metadataMap); err != nil {
		return report, nil
	}

	columnMetadataMap := ColumnMetdataMap{}
	columnMetadataAny, ok := metadataMap["columns"].(map[string]any)
	if !ok {
		return nil, errors.New("columns metadata is not an object")
	}
	for name, raw := range columnMetadataAny {
		col, ok := raw.(map[string]any)
		if !ok {
			return nil, errors.New("column metadata is not an object")
		}
		columnMetadataMap[name] = col
	}

	if err := run(v, checks, columnMetadataMap); err != nil {
		return report, nil
	}

	metadata, metaErr := geoparquet.GetMetadata(keyValueMetadata)
	if metaErr != nil {
		return nil, metaErr
	}

	info := &FileInfo{Metadata: metadata, File: reader}
	if err := run(v, checks, info); err != nil {
		return report, nil
	}

	return report, nil
}

func run[T RuleData](v *Validator, checks []*Check, data T) error {
	for i, r := range v.rules {
		check := checks[i]
		rule, ok := r.(*GenericRule[T])
		if !ok {
			continue
		}
		rule.Init(data)
		check.Run = true
		if err := rule.Validate(); err != nil {
			check.Message = err.Error()
			if errors.Is(err, ErrFatal) {
				return err
			}
			continue
		}
		check.Passed = true
	}
	return nil
}
