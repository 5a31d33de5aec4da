package features

import "diabetes-risk/internal/patient"

// Column is one named value of an encoded row.
type Column struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// EncodedRow is a record after categorical expansion: numeric fields first,
// then gender indicators, then smoking indicators.
type EncodedRow []Column

// Names returns the column names in row order.
func (r EncodedRow) Names() []string {
	names := make([]string, len(r))
	for i, c := range r {
		names[i] = c.Name
	}
	return names
}

// Value returns the value of the named column.
func (r EncodedRow) Value(name string) (float64, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, true
		}
	}
	return 0, false
}

// Encode expands rec into indicator columns over the full declared category
// domain. The output depends only on rec, never on what other requests contained.
func Encode(rec patient.InputRecord) EncodedRow {
	row := make(EncodedRow, 0, 14)
	row = append(row,
		Column{patient.FieldAge, rec.Age},
		Column{patient.FieldHypertension, float64(rec.Hypertension)},
		Column{patient.FieldHeartDisease, float64(rec.HeartDisease)},
		Column{patient.FieldBMI, rec.BMI},
		Column{patient.FieldHbA1cLevel, rec.HbA1cLevel},
		Column{patient.FieldBloodGlucoseLevel, rec.BloodGlucoseLevel},
	)
	row = appendIndicators(row, genderField, rec.Gender)
	row = appendIndicators(row, smokingField, rec.SmokingHistory)
	return row
}

func appendIndicators(row EncodedRow, f CategoricalField, value string) EncodedRow {
	for _, c := range f.Categories {
		if f.DropReference && c == f.Reference {
			continue
		}
		v := 0.0
		if c == value {
			v = 1
		}
		row = append(row, Column{f.Column(c), v})
	}
	return row
}
