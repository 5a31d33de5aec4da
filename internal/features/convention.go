// Package features turns a validated patient record into the feature vector the
// frozen classifier was trained on: categorical expansion followed by
// reindexing against the training column schema.
//
// Only one encoding convention exists in this package. It is the convention the
// deployed schema was fitted under (the schema carries gender_Other and five
// smoking columns), and the asset loader refuses any schema or manifest that
// disagrees with it.
package features

import "diabetes-risk/internal/patient"

// ConventionID names the encoding convention. Artifact manifests must declare it.
const ConventionID = "gender-dropfirst.smoking-full/v2"

// CategoricalField describes how one categorical input expands into indicator columns.
type CategoricalField struct {
	Name string
	// Categories in the order the training encoder saw them (lexical, as pandas sorts).
	Categories []string
	// Reference is the baseline category. With DropReference it emits no column;
	// without it, its column is emitted and expected to be absent from the schema.
	Reference     string
	DropReference bool
}

// Column returns the encoded column name for a category.
func (f CategoricalField) Column(category string) string {
	return f.Name + "_" + category
}

// Emitted lists the indicator columns the encoder produces for this field.
func (f CategoricalField) Emitted() []string {
	out := make([]string, 0, len(f.Categories))
	for _, c := range f.Categories {
		if f.DropReference && c == f.Reference {
			continue
		}
		out = append(out, f.Column(c))
	}
	return out
}

// Required lists the indicator columns the schema must contain for this field.
func (f CategoricalField) Required() []string {
	out := make([]string, 0, len(f.Categories))
	for _, c := range f.Categories {
		if c == f.Reference {
			continue
		}
		out = append(out, f.Column(c))
	}
	return out
}

var (
	genderField = CategoricalField{
		Name:          patient.FieldGender,
		Categories:    []string{"Female", "Male", "Other"},
		Reference:     "Female",
		DropReference: true,
	}
	smokingField = CategoricalField{
		Name:          patient.FieldSmokingHistory,
		Categories:    []string{"No Info", "current", "ever", "former", "never", "not current"},
		Reference:     "No Info",
		DropReference: false,
	}
)

// NumericFields are passed through unchanged, in input order.
func NumericFields() []string {
	return []string{
		patient.FieldAge,
		patient.FieldHypertension,
		patient.FieldHeartDisease,
		patient.FieldBMI,
		patient.FieldHbA1cLevel,
		patient.FieldBloodGlucoseLevel,
	}
}

// CategoricalFields returns the categorical expansions in encoding order.
func CategoricalFields() []CategoricalField {
	return []CategoricalField{genderField, smokingField}
}
