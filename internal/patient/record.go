// Package patient defines the clinical input record accepted by the prediction
// service and the boundary validation that produces it.
//
// Every transport (HTTP JSON, HTTP form, CLI file) goes through Validate, so the
// unknown-category policy is the same everywhere: unknown values are rejected.
package patient

// Field names, as they appear in requests and in the training data.
const (
	FieldGender            = "gender"
	FieldAge               = "age"
	FieldHypertension      = "hypertension"
	FieldHeartDisease      = "heart_disease"
	FieldSmokingHistory    = "smoking_history"
	FieldBMI               = "bmi"
	FieldHbA1cLevel        = "HbA1c_level"
	FieldBloodGlucoseLevel = "blood_glucose_level"
)

// Fields lists every required field in training-data order.
var Fields = []string{
	FieldGender,
	FieldAge,
	FieldHypertension,
	FieldHeartDisease,
	FieldSmokingHistory,
	FieldBMI,
	FieldHbA1cLevel,
	FieldBloodGlucoseLevel,
}

// Declared category domains.
var (
	GenderValues         = []string{"Female", "Male", "Other"}
	SmokingHistoryValues = []string{"never", "No Info", "current", "former", "ever", "not current"}
)

// Raw is an undecoded request: a JSON object or a set of form values.
type Raw map[string]any

// InputRecord is one validated prediction request.
type InputRecord struct {
	Gender            string  `json:"gender"`
	Age               float64 `json:"age"`
	Hypertension      int     `json:"hypertension"`
	HeartDisease      int     `json:"heart_disease"`
	SmokingHistory    string  `json:"smoking_history"`
	BMI               float64 `json:"bmi"`
	HbA1cLevel        float64 `json:"HbA1c_level"`
	BloodGlucoseLevel float64 `json:"blood_glucose_level"`
}

// Raw converts the record back into its request form.
func (r InputRecord) Raw() Raw {
	return Raw{
		FieldGender:            r.Gender,
		FieldAge:               r.Age,
		FieldHypertension:      r.Hypertension,
		FieldHeartDisease:      r.HeartDisease,
		FieldSmokingHistory:    r.SmokingHistory,
		FieldBMI:               r.BMI,
		FieldHbA1cLevel:        r.HbA1cLevel,
		FieldBloodGlucoseLevel: r.BloodGlucoseLevel,
	}
}

// Sample is the reference record used by the artifact checks.
func Sample() InputRecord {
	return InputRecord{
		Gender:            "Female",
		Age:               80.0,
		Hypertension:      1,
		HeartDisease:      1,
		SmokingHistory:    "never",
		BMI:               27.32,
		HbA1cLevel:        6.6,
		BloodGlucoseLevel: 140,
	}
}
