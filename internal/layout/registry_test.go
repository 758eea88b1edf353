package layout

import (
	"os"
	"path/filepath"
	"testing"
)

func validLayout() *Layout {
	return &Layout{
		Version: "9.0",
		Records: map[string]RecordSpec{
			"0000": {Level: 0, Fields: []FieldSpec{
				{Name: "REG", Type: FieldCharacter},
				{Name: "CNPJ", Type: FieldNumeric},
				{Name: "DT_FIN", Type: FieldNumeric, Width: 8},
			}},
			"I050": {Level: 2, Fields: []FieldSpec{
				{Name: "REG", Type: FieldCharacter},
				{Name: "COD_CTA", Type: FieldCharacter},
			}},
		},
	}
}

func TestLayout_Validate(t *testing.T) {
	if err := validLayout().Validate(); err != nil {
		t.Fatalf("valid layout failed validation: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Layout)
	}{
		{"empty version", func(l *Layout) { l.Version = " " }},
		{"no records", func(l *Layout) { l.Records = nil }},
		{"negative level", func(l *Layout) {
			spec := l.Records["I050"]
			spec.Level = -1
			l.Records["I050"] = spec
		}},
		{"no fields", func(l *Layout) {
			spec := l.Records["I050"]
			spec.Fields = nil
			l.Records["I050"] = spec
		}},
		{"unnamed field", func(l *Layout) {
			spec := l.Records["I050"]
			spec.Fields[1].Name = ""
			l.Records["I050"] = spec
		}},
		{"invalid field type", func(l *Layout) {
			spec := l.Records["I050"]
			spec.Fields[1].Type = "X"
			l.Records["I050"] = spec
		}},
		{"negative decimal scale", func(l *Layout) {
			spec := l.Records["I050"]
			spec.Fields[1].DecimalScale = -2
			l.Records["I050"] = spec
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := validLayout()
			tt.mutate(l)
			if err := l.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestFieldSpec_IsDate(t *testing.T) {
	tests := []struct {
		name   string
		isDate bool
	}{
		{"DT_FIN", true},
		{"DT_LCTO", true},
		{"DATA_INI", true},
		{"COD_CTA", false},
		{"VL_SLD_FIN", false},
	}

	for _, tt := range tests {
		spec := FieldSpec{Name: tt.name}
		if got := spec.IsDate(); got != tt.isDate {
			t.Errorf("FieldSpec{%s}.IsDate() = %v, want %v", tt.name, got, tt.isDate)
		}
	}
}

func TestRegistry_GetUnknownVersion(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(validLayout()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := r.Get("9.0"); err != nil {
		t.Errorf("Get(9.0) unexpected error: %v", err)
	}
	if _, err := r.Get("3.0"); err == nil {
		t.Error("Get(3.0) expected error for unregistered version")
	}
}

func TestRegistry_LoadDir(t *testing.T) {
	dir := t.TempDir()

	doc := `{
		"version": "9.0",
		"records": {
			"0000": {"level": 0, "fields": [
				{"name": "REG", "type": "C"},
				{"name": "DT_FIN", "type": "N", "width": 8}
			]}
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, "layout_9.0.json"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	// Version omitted from the document body; recovered from the filename.
	noVersion := `{
		"records": {
			"0000": {"level": 0, "fields": [{"name": "REG", "type": "C"}]}
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, "layout_7.0.json"), []byte(noVersion), 0644); err != nil {
		t.Fatal(err)
	}

	// Files not matching the layout glob are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	versions := r.Versions()
	if len(versions) != 2 || versions[0] != "7.0" || versions[1] != "9.0" {
		t.Errorf("Versions() = %v, want [7.0 9.0]", versions)
	}

	l, err := r.Get("9.0")
	if err != nil {
		t.Fatalf("Get(9.0) failed: %v", err)
	}
	if _, ok := l.Record("0000"); !ok {
		t.Error("layout 9.0 missing record 0000")
	}
}

func TestRegistry_LoadFileInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout_bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	if err := r.LoadFile(path); err == nil {
		t.Error("expected error loading malformed layout document")
	}
}
