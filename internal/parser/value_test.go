package parser

import (
	"testing"
	"time"

	"ecd-reconciliation-service/internal/layout"
)

func TestConvertField(t *testing.T) {
	dateSpec := layout.FieldSpec{Name: "DT_FIN", Type: layout.FieldNumeric, Width: 8}
	amountSpec := layout.FieldSpec{Name: "VL_SLD_FIN", Type: layout.FieldNumeric, DecimalScale: 2}
	codeSpec := layout.FieldSpec{Name: "COD_CTA", Type: layout.FieldNumeric, DecimalScale: 0}
	textSpec := layout.FieldSpec{Name: "CTA", Type: layout.FieldCharacter}

	t.Run("empty is null", func(t *testing.T) {
		v, ok := convertField(textSpec, "")
		if !ok || !v.IsNull() {
			t.Errorf("convertField(empty) = %v ok=%v, want null ok=true", v, ok)
		}
	})

	t.Run("date field", func(t *testing.T) {
		v, ok := convertField(dateSpec, "31122023")
		if !ok {
			t.Fatal("expected successful date conversion")
		}
		date, isDate := v.Date()
		if !isDate || !date.Equal(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("date = %v, want 2023-12-31", date)
		}
	})

	t.Run("short date is left-padded", func(t *testing.T) {
		v, ok := convertField(dateSpec, "1012023")
		if !ok {
			t.Fatal("expected successful date conversion")
		}
		date, _ := v.Date()
		if !date.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("date = %v, want 2023-01-01", date)
		}
	})

	t.Run("unparsable date keeps raw text", func(t *testing.T) {
		v, ok := convertField(dateSpec, "99999999")
		if ok {
			t.Error("expected ok=false for unparsable date")
		}
		if v.Text() != "99999999" {
			t.Errorf("fallback text = %q, want raw input", v.Text())
		}
	})

	t.Run("scaled numeric with comma separator", func(t *testing.T) {
		v, ok := convertField(amountSpec, "1234,56")
		if !ok {
			t.Fatal("expected successful decimal conversion")
		}
		d, isDec := v.Decimal()
		if !isDec || d.String() != "1234.56" {
			t.Errorf("decimal = %s, want 1234.56", d)
		}
	})

	t.Run("bad decimal degrades to null", func(t *testing.T) {
		v, ok := convertField(amountSpec, "12x34")
		if ok || !v.IsNull() {
			t.Errorf("convertField(bad decimal) = %v ok=%v, want null ok=false", v, ok)
		}
	})

	t.Run("zero-scale numeric stays text", func(t *testing.T) {
		// Identifiers keep their leading zeros.
		v, ok := convertField(codeSpec, "00123")
		if !ok {
			t.Fatal("expected successful conversion")
		}
		if v.Kind() != ValueText || v.Text() != "00123" {
			t.Errorf("value = %v kind=%v, want text 00123", v.Text(), v.Kind())
		}
	})
}

func TestFieldValue_String(t *testing.T) {
	if got := NullValue().String(); got != "" {
		t.Errorf("null String() = %q, want empty", got)
	}
	if got := TextValue("abc").String(); got != "abc" {
		t.Errorf("text String() = %q, want abc", got)
	}
	if got := DateValue(time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)).String(); got != "2023-06-30" {
		t.Errorf("date String() = %q, want 2023-06-30", got)
	}
}
