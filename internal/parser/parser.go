// Package parser recovers typed, hierarchically-linked records from the flat
// pipe-delimited line stream of a bookkeeping submission file.
//
// The source format carries no explicit foreign keys: a record's parent is
// the most recently emitted record whose nesting level is exactly one less
// than its own. The parser reconstructs that tree with a last-seen-key-per-
// level table owned by the parser instance, so each file gets its own state
// and nothing is shared across goroutines.
//
// Failure policy: malformed lines are logged, counted and skipped; the file
// is never wholesale-rejected because of isolated bad lines. Only an absent
// version marker or an empty stream is fatal.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"ecd-reconciliation-service/internal/layout"
	"ecd-reconciliation-service/internal/models"
	"ecd-reconciliation-service/pkg/errors"
	"ecd-reconciliation-service/pkg/logger"

	"golang.org/x/text/encoding/charmap"
)

const (
	// FieldDelimiter separates fields; lines begin and end with it.
	FieldDelimiter = "|"

	// VersionMarkerRecord selects the layout version for the whole file.
	VersionMarkerRecord = "I010"

	// ReservedBulkPrefix marks the bulk-data record family that is always
	// skipped, regardless of layout.
	ReservedBulkPrefix = "C"

	// rootPeriodField is the root-record field carrying the filing's
	// period-end date, which namespaces every synthesized key.
	rootPeriodField = "DT_FIN"

	// fallbackPeriodKey is used when the root record carries no usable
	// period-end date.
	fallbackPeriodKey = "00000000"
)

// Record is one parsed physical line: its record-type code, ordinal line
// number and typed field values. Immutable once parsed.
type Record struct {
	Type       string
	LineNumber int
	Fields     map[string]FieldValue
}

// Field returns a field value, null when absent.
func (r *Record) Field(name string) FieldValue {
	if v, ok := r.Fields[name]; ok {
		return v
	}
	return NullValue()
}

// Node is a Record augmented with a synthesized key unique within the batch
// and the recovered parent key (empty at the root level).
type Node struct {
	Record
	Level     int
	Key       string
	ParentKey string
}

// Stats counts the outcome of one parse run.
type Stats struct {
	TotalLines       int
	NodesEmitted     int
	SkippedUnknown   int
	SkippedMalformed int
	FieldErrors      int
}

// Parser consumes one file's line stream and emits Nodes. A Parser instance
// is single-use: the level table and period key are per-file state.
type Parser struct {
	layout    *layout.Layout
	fileName  string
	levelKeys map[int]string
	periodKey string
	stats     Stats
	logger    logger.Logger
}

// New creates a parser for one file against the given layout.
func New(l *layout.Layout, fileName string) *Parser {
	return &Parser{
		layout:    l,
		fileName:  fileName,
		levelKeys: make(map[int]string),
		logger: logger.GetGlobalLogger().WithComponent("record_parser").
			WithField("file", fileName),
	}
}

// Stats returns the counters of the completed run.
func (p *Parser) Stats() Stats {
	return p.stats
}

// PeriodKey returns the YYYYMMDD namespace recovered from the root record,
// or the fallback when none was seen.
func (p *Parser) PeriodKey() string {
	if p.periodKey == "" {
		return fallbackPeriodKey
	}
	return p.periodKey
}

// DecodeLegacy wraps a reader of the legacy single-byte wire encoding into a
// UTF-8 stream.
func DecodeLegacy(r io.Reader) io.Reader {
	return charmap.ISO8859_1.NewDecoder().Reader(r)
}

// DetectVersion scans the stream for the version-marker record and returns
// the layout version it declares. Absence of the marker is fatal: there is
// no safe default layout.
func DetectVersion(r io.Reader, fileName string) (string, error) {
	scanner := newLineScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, FieldDelimiter+VersionMarkerRecord+FieldDelimiter) {
			continue
		}
		parts := strings.Split(line, FieldDelimiter)
		if len(parts) > 3 && strings.TrimSpace(parts[3]) != "" {
			return strings.TrimSpace(parts[3]), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.FileError(errors.CodeFileNotFound, fileName, err)
	}
	return "", errors.LayoutError(errors.CodeVersionUndetected, fileName, "", nil)
}

// DetectVersionFile opens a submission file and detects its layout version.
func DetectVersionFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return "", errors.FileError(errors.CodeFilePermission, path, err)
	}
	defer f.Close()
	return DetectVersion(DecodeLegacy(f), path)
}

// Parse reads the line stream and invokes emit for every Node, in emission
// order. The sequence is lazy, finite and non-restartable; a non-nil error
// from emit stops the run. An empty stream is fatal.
func (p *Parser) Parse(r io.Reader, emit func(*Node) error) error {
	scanner := newLineScanner(r)

	for scanner.Scan() {
		p.stats.TotalLines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, FieldDelimiter) {
			continue
		}

		parts := strings.Split(line, FieldDelimiter)
		if len(parts) < 2 || parts[1] == "" {
			p.stats.SkippedMalformed++
			p.logger.WithField("line", p.stats.TotalLines).Warn("Skipping line without record code")
			continue
		}

		code := parts[1]
		if strings.HasPrefix(code, ReservedBulkPrefix) {
			continue
		}

		spec, ok := p.layout.Record(code)
		if !ok {
			p.stats.SkippedUnknown++
			continue
		}

		node, ok := p.buildNode(code, spec, parts)
		if !ok {
			continue
		}

		if err := emit(node); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.ParseError(errors.CodeInvalidFormat, p.fileName, p.stats.TotalLines, "", err)
	}

	if p.stats.TotalLines == 0 {
		return errors.FileError(errors.CodeEmptyInput, p.fileName, nil)
	}

	p.logger.WithFields(logger.Fields{
		"lines":             p.stats.TotalLines,
		"nodes":             p.stats.NodesEmitted,
		"skipped_unknown":   p.stats.SkippedUnknown,
		"skipped_malformed": p.stats.SkippedMalformed,
		"field_errors":      p.stats.FieldErrors,
	}).Info("Parsed submission file")

	return nil
}

// ParseFile opens, decodes and parses a submission file.
func (p *Parser) ParseFile(path string, emit func(*Node) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	defer f.Close()
	return p.Parse(DecodeLegacy(f), emit)
}

// ParseAll collects every Node of the stream. Convenient for filings that
// comfortably fit in memory, which annual submissions do.
func (p *Parser) ParseAll(r io.Reader) ([]*Node, error) {
	var nodes []*Node
	err := p.Parse(r, func(n *Node) error {
		nodes = append(nodes, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// buildNode extracts fields, synthesizes the key pair and advances the level
// table. Returns ok=false for lines skipped under the recoverable policy.
func (p *Parser) buildNode(code string, spec layout.RecordSpec, parts []string) (*Node, bool) {
	// parts[0] is the empty token before the leading delimiter and the
	// layout's field list starts with the record code, so field i maps to
	// parts[i+1]. A trailing delimiter adds one empty token.
	minParts := len(spec.Fields) + 1
	maxParts := len(spec.Fields) + 2
	if len(parts) < minParts {
		p.stats.SkippedMalformed++
		p.logger.WithFields(logger.Fields{
			"line":     p.stats.TotalLines,
			"record":   code,
			"expected": minParts,
			"got":      len(parts),
		}).Warn("Skipping truncated line")
		return nil, false
	}
	if len(parts) > maxParts {
		p.stats.SkippedMalformed++
		p.logger.WithFields(logger.Fields{
			"line":     p.stats.TotalLines,
			"record":   code,
			"expected": maxParts,
			"got":      len(parts),
		}).Warn("Skipping line with extra fields")
		return nil, false
	}

	fields := make(map[string]FieldValue, len(spec.Fields))
	for i, fieldSpec := range spec.Fields {
		raw := ""
		if i+1 < len(parts) {
			raw = parts[i+1]
		}

		value, ok := convertField(fieldSpec, raw)
		if !ok {
			p.stats.FieldErrors++
			p.logger.WithFields(logger.Fields{
				"line":   p.stats.TotalLines,
				"record": code,
				"field":  fieldSpec.Name,
				"value":  raw,
			}).Warn("Field conversion failed")
		}
		fields[fieldSpec.Name] = value
	}

	node := &Node{
		Record: Record{
			Type:       code,
			LineNumber: p.stats.TotalLines,
			Fields:     fields,
		},
		Level: spec.Level,
	}

	if spec.Level == 0 {
		p.capturePeriod(node)
	}

	node.Key = fmt.Sprintf("%s_%08d", p.PeriodKey(), node.LineNumber)
	if spec.Level > 0 {
		node.ParentKey = p.levelKeys[spec.Level-1]
	}
	p.levelKeys[spec.Level] = node.Key

	p.stats.NodesEmitted++
	return node, true
}

// capturePeriod seeds the key namespace from the root record's period-end
// date, tolerating the raw-text fallback of a failed date conversion.
func (p *Parser) capturePeriod(node *Node) {
	value := node.Field(rootPeriodField)
	if t, ok := value.Date(); ok {
		p.periodKey = models.PeriodKey(t)
		return
	}

	if raw := value.Text(); len(raw) == 8 && isDigits(raw) {
		// DDMMYYYY raw text reordered into YYYYMMDD.
		p.periodKey = raw[4:] + raw[2:4] + raw[:2]
		return
	}

	if value.IsNull() {
		p.logger.Error("Root record carries no period-end date; using fallback period key")
		p.periodKey = fallbackPeriodKey
	}
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
