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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/schema"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/stac-utils/stac-geoparquet/internal/geoparquet"
	"github.com/stac-utils/stac-geoparquet/internal/pqutil"
	"github.com/stac-utils/stac-geoparquet/internal/storage"
	"github.com/stac-utils/stac-geoparquet/internal/validator"
)

type DescribeCmd struct {
	Input    string `arg:"" name:"input" help:"Path or URL to a GeoParquet file." type:"string"`
	Format   string `help:"Report format.  Possible values: ${enum}." enum:"text, json, schema" default:"text"`
	Unpretty bool   `help:"No colors, newlines, or indentation in the output."`
	Sanity   bool   `help:"Run GeoParquet metadata-shape sanity checks and include them in the report." default:"true"`
}

const (
	ColName          = "Column"
	ColType          = "Type"
	ColAnnotation    = "Annotation"
	ColRepetition    = "Repetition"
	ColGeometryTypes = "Geometry Types"
	ColBounds        = "Bounds"
	ColDetail        = "Detail"
)

type describeInfo struct {
	Schema   *describeSchema      `json:"schema"`
	Metadata *geoparquet.Metadata `json:"metadata"`
	NumRows  int64                `json:"rows"`
	Sanity   *validator.Report    `json:"sanity,omitempty"`
}

type describeSchema struct {
	Name       string            `json:"name,omitempty"`
	Optional   bool              `json:"optional,omitempty"`
	Repeated   bool              `json:"repeated,omitempty"`
	Type       string            `json:"type,omitempty"`
	Annotation string            `json:"annotation,omitempty"`
	Fields     []*describeSchema `json:"fields,omitempty"`
}

func (c *DescribeCmd) Run() error {
	ctx := context.Background()

	src, err := storage.NewReader(ctx, c.Input)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", c.Input, err)
	}
	defer src.Close()

	fileReader, err := file.NewParquetReader(src)
	if err != nil {
		return fmt.Errorf("failed to read %q as parquet: %w", c.Input, err)
	}
	defer fileReader.Close()

	fileMetadata := fileReader.MetaData()

	if c.Format == "schema" {
		fmt.Print(pqutil.ParquetSchemaString(fileMetadata.Schema))
		return nil
	}

	metadata, geoErr := geoparquet.GetMetadata(fileMetadata.KeyValueMetadata())
	if geoErr != nil && !errors.Is(geoErr, geoparquet.ErrNoMetadata) {
		return geoErr
	}

	info := &describeInfo{
		Schema:   buildDescribeSchema("", fileMetadata.Schema.Root()),
		Metadata: metadata,
		NumRows:  fileMetadata.NumRows,
	}

	if c.Sanity {
		report, err := validator.New(true).Report(ctx, fileReader)
		if err != nil {
			return fmt.Errorf("failed to run sanity checks: %w", err)
		}
		info.Sanity = report
	}

	if c.Format == "json" {
		return c.formatJSON(info)
	}
	return c.formatText(info)
}

func (c *DescribeCmd) formatText(info *describeInfo) error {
	metadata := info.Metadata

	header := table.Row{ColName, ColType, ColAnnotation, ColRepetition}
	columnConfigs := []table.ColumnConfig{}
	if metadata != nil {
		header = append(header, ColGeometryTypes, ColBounds, ColDetail)
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Name:             ColGeometryTypes,
			WidthMax:         50,
			WidthMaxEnforcer: text.WrapSoft,
		}, table.ColumnConfig{
			Name:             ColBounds,
			WidthMax:         50,
			WidthMaxEnforcer: text.WrapSoft,
		})
	}

	tbl := table.NewWriter()
	tbl.SetColumnConfigs(columnConfigs)
	tbl.AppendHeader(header)

	for _, field := range info.Schema.Fields {
		name := field.Name
		if metadata != nil && metadata.PrimaryColumn == name {
			name = text.Bold.Sprint(name)
		}
		repetition := "1"
		if field.Repeated {
			repetition = "0..*"
		} else if field.Optional {
			repetition = "0..1"
		}
		row := table.Row{name, field.Type, field.Annotation, repetition}
		if metadata != nil {
			geoColumn, ok := metadata.Columns[field.Name]
			if !ok {
				row = append(row, "", "", "")
			} else {
				types := strings.Join(geoColumn.GetGeometryTypes(), ", ")
				bounds := ""
				if geoColumn.Bounds != nil {
					values := make([]string, len(geoColumn.Bounds))
					for i, v := range geoColumn.Bounds {
						values[i] = strconv.FormatFloat(v, 'f', -1, 64)
					}
					bounds = fmt.Sprintf("[%s]", strings.Join(values, ", "))
				}
				details := table.NewWriter()
				details.SetStyle(table.StyleLight)
				details.Style().Options.DrawBorder = false
				if geoColumn.Orientation != "" {
					details.AppendRow(table.Row{"orientation", geoColumn.Orientation})
				}
				if geoColumn.Edges != "" {
					details.AppendRow(table.Row{"edges", geoColumn.Edges})
				}
				if proj := geoColumn.Proj(); proj != nil {
					details.AppendRow(table.Row{"crs", proj})
				}
				row = append(row, types, bounds, details.Render())
			}
		}
		tbl.AppendRow(row)
	}

	tbl.AppendFooter(describeFooter("Rows", info.NumRows, header), table.RowConfig{AutoMerge: true})
	if metadata != nil {
		version := metadata.Version
		if version == "" {
			version = "missing"
		}
		tbl.AppendFooter(describeFooter("Version", version, header), table.RowConfig{AutoMerge: true, AutoMergeAlign: text.AlignLeft})
	}

	tbl.SetStyle(table.StyleRounded)
	tbl.SetOutputMirror(os.Stdout)
	tbl.Render()

	if info.Sanity != nil {
		printSanityReport(info.Sanity, c.Unpretty)
	}
	return nil
}

func printSanityReport(report *validator.Report, unpretty bool) {
	if unpretty {
		color.NoColor = true
	}

	passed, failed, unrun := 0, 0, 0
	for _, check := range report.Checks {
		switch {
		case !check.Run:
			unrun++
		case check.Passed:
			passed++
		default:
			failed++
		}
	}

	fmt.Printf("\nSanity checks: %d passed, %d failed, %d not run.\n", passed, failed, unrun)
	for _, check := range report.Checks {
		switch {
		case !check.Run:
			color.Yellow(" ! %s (not checked)", check.Title)
		case check.Passed:
			color.Green(" ✓ %s", check.Title)
		default:
			color.Red(" ✗ %s", check.Title)
			color.Red("   ↳ %s", check.Message)
		}
	}
}

func describeFooter(key string, value any, header table.Row) table.Row {
	row := table.Row{key, value}
	for i := len(row); i < len(header); i++ {
		row = append(row, "")
	}
	return row
}

func (c *DescribeCmd) formatJSON(info *describeInfo) error {
	encoder := json.NewEncoder(os.Stdout)
	if !c.Unpretty {
		encoder.SetIndent("", "  ")
		encoder.SetEscapeHTML(false)
	}
	if err := encoder.Encode(info); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return nil
}

func buildDescribeSchema(name string, node schema.Node) *describeSchema {
	annotation := ""
	logicalType := node.LogicalType()
	if !logicalType.IsNone() {
		annotation = strings.ToLower(logicalType.String())
	}

	repetition := node.RepetitionType()
	optional := repetition == parquet.Repetitions.Optional
	repeated := repetition == parquet.Repetitions.Repeated

	field := &describeSchema{
		Name:       name,
		Optional:   optional,
		Repeated:   repeated,
		Annotation: annotation,
	}

	if leaf, ok := node.(*schema.PrimitiveNode); ok {
		switch leaf.PhysicalType() {
		case parquet.Types.Boolean:
			field.Type = "boolean"
		case parquet.Types.Int32:
			field.Type = "int32"
		case parquet.Types.Int64:
			field.Type = "int64"
		case parquet.Types.Int96:
			field.Type = "int96"
		case parquet.Types.Float:
			field.Type = "float"
		case parquet.Types.Double:
			field.Type = "double"
		case parquet.Types.ByteArray:
			field.Type = "binary"
		case parquet.Types.FixedLenByteArray:
			field.Type = fmt.Sprintf("fixed_len_byte_array(%d)", leaf.TypeLength())
		default:
			field.Type = leaf.PhysicalType().String()
		}
		return field
	}

	if group, ok := node.(*schema.GroupNode); ok {
		count := group.NumFields()
		field.Fields = make([]*describeSchema, count)
		for i := 0; i < count; i++ {
			groupField := group.Field(i)
			field.Fields[i] = buildDescribeSchema(groupField.Name(), groupField)
		}
	}
	return field
}
