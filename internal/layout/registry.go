// Package layout holds the versioned field definitions driving the record
// parser. One layout document exists per layout version of the bookkeeping
// submission format; the version marker inside each file selects which one
// applies. Layouts are loaded once and read-only thereafter.
package layout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ecd-reconciliation-service/pkg/errors"
	"ecd-reconciliation-service/pkg/logger"
)

// FieldType declares how a field's raw text is interpreted.
type FieldType string

const (
	// FieldNumeric covers amounts (decimal scale > 0) and numeric
	// identifiers (decimal scale 0, kept as text to preserve leading zeros).
	FieldNumeric FieldType = "N"
	// FieldCharacter is plain text.
	FieldCharacter FieldType = "C"
)

// FieldSpec describes one positional field of a record type.
type FieldSpec struct {
	Name         string    `json:"name"`
	Type         FieldType `json:"type"`
	Width        int       `json:"width,omitempty"`
	DecimalScale int       `json:"decimal_scale"`
}

// IsDate reports whether the field name signals a day-month-year date. The
// submission format encodes this in the naming convention, not the type flag.
func (f FieldSpec) IsDate() bool {
	return strings.Contains(f.Name, "DT_") || strings.Contains(f.Name, "DATA")
}

// RecordSpec describes one record type: its nesting level and its ordered
// field list. The first field is the record code itself.
type RecordSpec struct {
	Level  int         `json:"level"`
	Fields []FieldSpec `json:"fields"`
}

// Layout is the full field-definition set for one layout version.
type Layout struct {
	Version string                `json:"version"`
	Records map[string]RecordSpec `json:"records"`
}

// Record returns the spec for a record code.
func (l *Layout) Record(code string) (RecordSpec, bool) {
	spec, ok := l.Records[code]
	return spec, ok
}

// RecordCodes returns the sorted record codes of the layout.
func (l *Layout) RecordCodes() []string {
	codes := make([]string, 0, len(l.Records))
	for code := range l.Records {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Validate checks structural sanity of a loaded layout document.
func (l *Layout) Validate() error {
	if strings.TrimSpace(l.Version) == "" {
		return fmt.Errorf("layout version cannot be empty")
	}
	if len(l.Records) == 0 {
		return fmt.Errorf("layout %s defines no record types", l.Version)
	}

	for code, spec := range l.Records {
		if spec.Level < 0 {
			return fmt.Errorf("record %s: negative nesting level %d", code, spec.Level)
		}
		if len(spec.Fields) == 0 {
			return fmt.Errorf("record %s: no fields defined", code)
		}
		for i, field := range spec.Fields {
			if strings.TrimSpace(field.Name) == "" {
				return fmt.Errorf("record %s: field %d has no name", code, i)
			}
			if field.Type != FieldNumeric && field.Type != FieldCharacter {
				return fmt.Errorf("record %s: field %s has invalid type %q", code, field.Name, field.Type)
			}
			if field.DecimalScale < 0 {
				return fmt.Errorf("record %s: field %s has negative decimal scale", code, field.Name)
			}
		}
	}

	return nil
}

// Registry holds the loaded layouts, keyed by version.
type Registry struct {
	layouts map[string]*Layout
	logger  logger.Logger
}

// NewRegistry creates an empty layout registry.
func NewRegistry() *Registry {
	return &Registry{
		layouts: make(map[string]*Layout),
		logger:  logger.GetGlobalLogger().WithComponent("layout_registry"),
	}
}

// Register adds a layout to the registry after validating it.
func (r *Registry) Register(l *Layout) error {
	if err := l.Validate(); err != nil {
		return errors.LayoutError(errors.CodeLayoutInvalid, "", l.Version, err)
	}

	r.layouts[l.Version] = l
	r.logger.WithFields(logger.Fields{
		"version": l.Version,
		"records": len(l.Records),
	}).Debug("Registered layout")
	return nil
}

// Get returns the layout for a version. A missing version is fatal for the
// filing: there is no safe default layout.
func (r *Registry) Get(version string) (*Layout, error) {
	l, ok := r.layouts[version]
	if !ok {
		return nil, errors.LayoutError(errors.CodeLayoutUnknown, "", version, nil)
	}
	return l, nil
}

// Versions returns the sorted registered versions.
func (r *Registry) Versions() []string {
	versions := make([]string, 0, len(r.layouts))
	for v := range r.layouts {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// LoadFile loads and registers one layout document.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.LayoutError(errors.CodeLayoutInvalid, path, "", err)
	}

	var l Layout
	if err := json.Unmarshal(data, &l); err != nil {
		return errors.LayoutError(errors.CodeLayoutInvalid, path, "", err)
	}

	// The document may carry the version in its filename only.
	if l.Version == "" {
		l.Version = versionFromFilename(path)
	}

	return r.Register(&l)
}

// LoadDir loads every layout_<version>.json document found in dir.
func (r *Registry) LoadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "layout_*.json"))
	if err != nil {
		return errors.LayoutError(errors.CodeLayoutInvalid, dir, "", err)
	}

	if len(matches) == 0 {
		r.logger.WithField("dir", dir).Warn("No layout documents found")
	}

	for _, path := range matches {
		if err := r.LoadFile(path); err != nil {
			return err
		}
	}

	r.logger.WithFields(logger.Fields{
		"dir":      dir,
		"versions": r.Versions(),
	}).Info("Loaded layout registry")
	return nil
}

func versionFromFilename(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimPrefix(base, "layout_")
}
