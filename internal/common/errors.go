package common

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure so callers can branch without matching messages.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation marks malformed or missing request fields.
	KindValidation
	// KindAssetLoad marks missing or corrupt artifacts, and requests made while
	// artifacts are unavailable.
	KindAssetLoad
	// KindSchemaMismatch marks structural disagreement between the column schema,
	// the scaler and the classifier.
	KindSchemaMismatch
	// KindInference marks any unexpected failure inside scaling or classification.
	KindInference
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAssetLoad:
		return "asset_load"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindInference:
		return "inference"
	default:
		return "unknown"
	}
}

// ErrAssetsNotLoaded is returned for every prediction attempted after a failed load.
var ErrAssetsNotLoaded = errors.New("model assets not loaded")

// Error is the single error type crossing package boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fields  map[string]string // per-field problems, validation only
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + e.Fields[k]
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

func NewValidationError(op string, fields map[string]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Op:      op,
		Message: "invalid input record",
		Fields:  fields,
	}
}

func NewAssetLoadError(op string, err error) *Error {
	return &Error{Kind: KindAssetLoad, Op: op, Message: "failed to load model assets", Err: err}
}

func NewSchemaMismatchError(op, format string, args ...any) *Error {
	return &Error{Kind: KindSchemaMismatch, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NewInferenceError(op string, err error) *Error {
	return &Error{Kind: KindInference, Op: op, Message: "prediction failed", Err: err}
}
