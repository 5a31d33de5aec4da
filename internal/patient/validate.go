package patient

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"diabetes-risk/internal/common"
)

// FromForm builds a Raw record from form values, keeping the first value per field.
func FromForm(values url.Values) Raw {
	raw := make(Raw, len(Fields))
	for _, f := range Fields {
		if vs, ok := values[f]; ok && len(vs) > 0 {
			raw[f] = vs[0]
		}
	}
	return raw
}

// Validate turns a raw request into an InputRecord. All field problems are
// reported together in one validation error.
func Validate(raw Raw) (InputRecord, error) {
	var rec InputRecord
	problems := make(map[string]string)

	rec.Gender = category(raw, FieldGender, GenderValues, problems)
	rec.SmokingHistory = category(raw, FieldSmokingHistory, SmokingHistoryValues, problems)

	rec.Age = number(raw, FieldAge, func(v float64) string {
		if v < 0 {
			return "must be non-negative"
		}
		return ""
	}, problems)
	rec.BMI = number(raw, FieldBMI, positive, problems)
	rec.HbA1cLevel = number(raw, FieldHbA1cLevel, positive, problems)
	rec.BloodGlucoseLevel = number(raw, FieldBloodGlucoseLevel, positive, problems)

	rec.Hypertension = binary(raw, FieldHypertension, problems)
	rec.HeartDisease = binary(raw, FieldHeartDisease, problems)

	if len(problems) > 0 {
		return InputRecord{}, common.NewValidationError("patient.Validate", problems)
	}
	return rec, nil
}

// Validate re-checks an already typed record, e.g. one built in code.
func (r InputRecord) Validate() error {
	_, err := Validate(r.Raw())
	return err
}

func positive(v float64) string {
	if v <= 0 {
		return "must be positive"
	}
	return ""
}

func lookup(raw Raw, field string, problems map[string]string) (any, bool) {
	v, ok := raw[field]
	if !ok || v == nil {
		problems[field] = "required"
		return nil, false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		problems[field] = "required"
		return nil, false
	}
	return v, true
}

func category(raw Raw, field string, domain []string, problems map[string]string) string {
	v, ok := lookup(raw, field, problems)
	if !ok {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		problems[field] = fmt.Sprintf("must be a string, got %T", v)
		return ""
	}
	s = strings.TrimSpace(s)
	if !slices.Contains(domain, s) {
		problems[field] = fmt.Sprintf("unknown category %q (allowed: %s)", s, strings.Join(domain, ", "))
		return ""
	}
	return s
}

func number(raw Raw, field string, check func(float64) string, problems map[string]string) float64 {
	v, ok := lookup(raw, field, problems)
	if !ok {
		return 0
	}
	f, err := toFloat(v)
	if err != nil {
		problems[field] = err.Error()
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		problems[field] = "must be a finite number"
		return 0
	}
	if msg := check(f); msg != "" {
		problems[field] = msg
		return 0
	}
	return f
}

func binary(raw Raw, field string, problems map[string]string) int {
	v, ok := lookup(raw, field, problems)
	if !ok {
		return 0
	}
	if b, isBool := v.(bool); isBool {
		if b {
			return 1
		}
		return 0
	}
	f, err := toFloat(v)
	if err != nil {
		problems[field] = err.Error()
		return 0
	}
	switch f {
	case 0:
		return 0
	case 1:
		return 1
	default:
		problems[field] = "must be 0 or 1"
		return 0
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("must be a number, got %T", v)
	}
}
