package features

import (
	"slices"

	"diabetes-risk/internal/common"
)

// Schema is the ordered training column list. It is immutable once built.
type Schema struct {
	names []string
	index map[string]int
}

// NewSchema builds a schema from the training column names.
func NewSchema(names []string) (Schema, error) {
	if len(names) == 0 {
		return Schema{}, common.NewSchemaMismatchError("features.NewSchema", "training column schema is empty")
	}
	index := make(map[string]int, len(names))
	for i, n := range names {
		if _, dup := index[n]; dup {
			return Schema{}, common.NewSchemaMismatchError("features.NewSchema", "duplicate column %q", n)
		}
		index[n] = i
	}
	return Schema{names: slices.Clone(names), index: index}, nil
}

// Len is the number of features every downstream stage expects.
func (s Schema) Len() int {
	return len(s.names)
}

// Names returns a copy of the column names in order.
func (s Schema) Names() []string {
	return slices.Clone(s.names)
}

// Has reports whether the schema contains the named column.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// AlignedRow holds exactly one value per schema column, in schema order.
type AlignedRow []float64

// Align reindexes row to the schema. Schema columns missing from row are 0 and
// row columns unknown to the schema are dropped. The width always equals s.Len().
func Align(row EncodedRow, s Schema) AlignedRow {
	out := make(AlignedRow, len(s.names))
	for _, c := range row {
		if i, ok := s.index[c.Name]; ok {
			out[i] = c.Value
		}
	}
	return out
}

// Dropped lists row columns that Align would discard.
func Dropped(row EncodedRow, s Schema) []string {
	var out []string
	for _, c := range row {
		if !s.Has(c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

// CheckSchema verifies that s was produced under ConventionID. Without this,
// a schema from another convention would be silently zero-filled by Align.
func CheckSchema(s Schema) error {
	const op = "features.CheckSchema"
	if s.Len() == 0 {
		return common.NewSchemaMismatchError(op, "training column schema is empty")
	}

	known := make(map[string]bool)
	for _, n := range NumericFields() {
		if !s.Has(n) {
			return common.NewSchemaMismatchError(op, "numeric column %q missing from schema", n)
		}
		known[n] = true
	}
	for _, f := range CategoricalFields() {
		for _, n := range f.Required() {
			if !s.Has(n) {
				return common.NewSchemaMismatchError(op,
					"indicator column %q missing from schema; schema was not fitted under %s", n, ConventionID)
			}
		}
		for _, n := range f.Emitted() {
			known[n] = true
		}
	}
	for _, n := range s.names {
		if !known[n] {
			return common.NewSchemaMismatchError(op,
				"schema column %q is not produced by encoding %s", n, ConventionID)
		}
	}
	return nil
}
