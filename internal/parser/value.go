package parser

import (
	"strings"
	"time"

	"ecd-reconciliation-service/internal/layout"
	"ecd-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// ValueKind enumerates the variants a parsed field can take.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueText
	ValueDecimal
	ValueDate
)

// FieldValue is the tagged variant produced by the field-spec interpreter.
// A value is exactly one of: null, text, exact decimal, or calendar date.
type FieldValue struct {
	kind ValueKind
	text string
	dec  decimal.Decimal
	date time.Time
}

// NullValue returns the null field value.
func NullValue() FieldValue {
	return FieldValue{kind: ValueNull}
}

// TextValue wraps a text field value.
func TextValue(s string) FieldValue {
	return FieldValue{kind: ValueText, text: s}
}

// DecimalValue wraps an exact-decimal field value.
func DecimalValue(d decimal.Decimal) FieldValue {
	return FieldValue{kind: ValueDecimal, dec: d}
}

// DateValue wraps a calendar-date field value.
func DateValue(t time.Time) FieldValue {
	return FieldValue{kind: ValueDate, date: t}
}

// Kind returns the variant tag.
func (v FieldValue) Kind() ValueKind {
	return v.kind
}

// IsNull reports whether the value is null.
func (v FieldValue) IsNull() bool {
	return v.kind == ValueNull
}

// Text returns the text content. Non-text variants render through String.
func (v FieldValue) Text() string {
	if v.kind == ValueText {
		return v.text
	}
	return v.String()
}

// Decimal returns the decimal content and whether the value holds one.
func (v FieldValue) Decimal() (decimal.Decimal, bool) {
	return v.dec, v.kind == ValueDecimal
}

// Date returns the date content and whether the value holds one.
func (v FieldValue) Date() (time.Time, bool) {
	return v.date, v.kind == ValueDate
}

// String renders the value for logs and reports.
func (v FieldValue) String() string {
	switch v.kind {
	case ValueText:
		return v.text
	case ValueDecimal:
		return v.dec.String()
	case ValueDate:
		return v.date.Format("2006-01-02")
	default:
		return ""
	}
}

// convertField interprets one raw token per its field spec. It is a pure
// function of (spec, raw); conversion failures degrade per the recoverable
// policy and never abort the line.
//
// Priority order mirrors the submission format rules:
//  1. date-named fields parse as day-month-year, falling back to the raw
//     text when unparsable;
//  2. numeric fields with a decimal scale become exact decimals, null on
//     failure;
//  3. everything else stays text, preserving leading zeros (zero-scale
//     numerics are identifiers, not quantities).
func convertField(spec layout.FieldSpec, raw string) (FieldValue, bool) {
	if raw == "" {
		return NullValue(), true
	}

	if spec.IsDate() {
		padded := raw
		if len(padded) < 8 {
			padded = strings.Repeat("0", 8-len(padded)) + padded
		}
		if len(padded) == 8 && isDigits(padded) {
			if t, err := models.ParseDayMonthYear(padded); err == nil {
				return DateValue(t), true
			}
		}
		return TextValue(raw), false
	}

	if spec.Type == layout.FieldNumeric && spec.DecimalScale > 0 {
		d, err := models.ParseDecimal(raw)
		if err != nil {
			return NullValue(), false
		}
		return DecimalValue(d), true
	}

	return TextValue(raw), true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
