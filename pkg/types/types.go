package types

import (
	"fmt"
	"time"
)

type Task struct {
	TaskID      string
	TaskType    string
	TaskStatus  string
	TaskContext string
	StartedAt   time.Time
	FinishedAt  time.Time
	TimeTaken   float64
}

// Dataset is a column-oriented, read-only table of raw values. Row order is
// the order rows were appended in and is preserved by every consumer.
type Dataset struct {
	Name    string
	Columns []string
	data    map[string][]any
	rows    int
}

func NewDataset(name string, columns []string) *Dataset {
	d := &Dataset{
		Name:    name,
		Columns: append([]string(nil), columns...),
		data:    make(map[string][]any, len(columns)),
	}
	for _, c := range columns {
		d.data[c] = nil
	}
	return d
}

// DatasetFromRows builds a dataset from positional rows.
func DatasetFromRows(name string, columns []string, rows [][]any) (*Dataset, error) {
	d := NewDataset(name, columns)
	for _, r := range rows {
		if err := d.AppendRow(r); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// AppendRow adds one row whose values are positional to Columns.
func (d *Dataset) AppendRow(values []any) error {
	if len(values) != len(d.Columns) {
		return fmt.Errorf("dataset %s: row %d has %d values, want %d", d.Name, d.rows, len(values), len(d.Columns))
	}
	for i, c := range d.Columns {
		d.data[c] = append(d.data[c], values[i])
	}
	d.rows++
	return nil
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return d.rows
}

func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.data[name]
	return ok
}

// Column returns the backing slice for name, or nil. Callers must not
// modify it.
func (d *Dataset) Column(name string) []any {
	return d.data[name]
}

func (d *Dataset) Value(row int, column string) any {
	col := d.data[column]
	if row < 0 || row >= len(col) {
		return nil
	}
	return col[row]
}

// Row returns a copy of row i keyed by column name.
func (d *Dataset) Row(i int) map[string]any {
	if i < 0 || i >= d.rows {
		return nil
	}
	snap := make(map[string]any, len(d.Columns))
	for _, c := range d.Columns {
		snap[c] = d.data[c][i]
	}
	return snap
}

// MissingColumns lists the names absent from the dataset, in input order.
func (d *Dataset) MissingColumns(names []string) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if !d.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// KeyRef locates a reconciliation key in both datasets. A row index of -1
// means the key is absent on that side.
type KeyRef struct {
	Key       string `json:"key"`
	SourceRow int    `json:"source_row"`
	TargetRow int    `json:"target_row"`
}

// FieldDiff is one unequal field. On a mapped field SourceCode is the code
// the source value translated to and TargetName the source name of the
// target code; either is empty when there is nothing to show.
type FieldDiff struct {
	Field       string `json:"field"`
	SourceValue any    `json:"source_value"`
	TargetValue any    `json:"target_value"`
	SourceCode  string `json:"source_code,omitempty"`
	TargetName  string `json:"target_name,omitempty"`
}

// DiffEntry describes one common key with at least one unequal field.
// Source and Target are snapshots of the original rows.
type DiffEntry struct {
	Key    string         `json:"key"`
	Fields []FieldDiff    `json:"fields"`
	Source map[string]any `json:"source"`
	Target map[string]any `json:"target"`
}

// FieldNames returns the mismatched field names in rule order.
func (e DiffEntry) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return names
}

type Summary struct {
	PrimaryKey     []string `json:"primary_key"`
	TotalSource    int      `json:"total_source"`
	TotalTarget    int      `json:"total_target"`
	Missing        int      `json:"missing_count"`
	Extra          int      `json:"extra_count"`
	Common         int      `json:"common_count"`
	Mismatched     int      `json:"diff_count"`
	Matched        int      `json:"equal_count"`
	MismatchRatio  float64  `json:"diff_ratio"`
	EmptyKeySource int      `json:"empty_key_source"`
	EmptyKeyTarget int      `json:"empty_key_target"`
	SkippedFields  []string `json:"skipped_fields,omitempty"`
}

type Result struct {
	Engine  string      `json:"engine"`
	Summary Summary     `json:"summary"`
	Missing []KeyRef    `json:"missing"`
	Extra   []KeyRef    `json:"extra"`
	Common  []KeyRef    `json:"-"`
	Diffs   []DiffEntry `json:"diffs"`
}

// Match reports whether the run found no missing, extra or mismatched keys.
func (r *Result) Match() bool {
	return r.Summary.Missing == 0 && r.Summary.Extra == 0 && r.Summary.Mismatched == 0
}
