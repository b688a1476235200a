// Package store persists pipeline state: stage tables as CSV files at stage
// boundaries, and a SQLite run database recording every provider attempt.
package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"cs4/internal/schema"
)

// Stage table file names, relative to the data directory.
const (
	SamplesFile     = "samples.csv"
	ConstraintsFile = "constraints.csv"
	BaseFile        = "base.csv"
	FittedFile      = "fitted.csv"
	EvaluationsFile = "evaluations.csv"
	QualityFile     = "quality.csv"
)

// Tables reads and writes the CSV stage tables under one data directory.
// Constraint lists travel inside cells in their numbered-list wire form;
// verdicts in the "1. Yes - explanation" form.
type Tables struct {
	dir string
}

// NewTables creates the data directory if needed and returns a handle to it.
func NewTables(dir string) (*Tables, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Tables{dir: dir}, nil
}

// Path returns the absolute path of a stage table.
func (t *Tables) Path(file string) string { return filepath.Join(t.dir, file) }

func (t *Tables) writeAll(file string, header []string, rows [][]string) error {
	f, err := os.Create(t.Path(file))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", file, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", file, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s rows: %w", file, err)
	}
	w.Flush()
	return w.Error()
}

func (t *Tables) readAll(file string, wantCols int) ([][]string, error) {
	f, err := os.Open(t.Path(file))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = wantCols
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s has no header row", file)
	}
	return rows[1:], nil
}

// WriteSamples persists the ingested sample table.
func (t *Tables) WriteSamples(samples []schema.Sample) error {
	rows := make([][]string, len(samples))
	for i, s := range samples {
		rows[i] = []string{s.ID, s.Domain, s.SourceText, s.Pairing}
	}
	return t.writeAll(SamplesFile, []string{"id", "domain", "source_text", "pairing"}, rows)
}

// ReadSamples loads the ingested sample table.
func (t *Tables) ReadSamples() ([]schema.Sample, error) {
	rows, err := t.readAll(SamplesFile, 4)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Sample, len(rows))
	for i, r := range rows {
		out[i] = schema.Sample{
			Key:        schema.Key{ID: r[0], Domain: r[1]},
			SourceText: r[2],
			Pairing:    r[3],
		}
	}
	return out, nil
}

// WriteConstraints persists the constraint extraction table.
func (t *Tables) WriteConstraints(recs []schema.ConstraintRecord) error {
	rows := make([][]string, len(recs))
	for i, r := range recs {
		rows[i] = []string{
			r.ID, r.Domain, r.MainTask, schema.Format(r.Constraints),
			strconv.Itoa(r.SubsetSize), r.Model, r.Err,
		}
	}
	return t.writeAll(ConstraintsFile,
		[]string{"id", "domain", "main_task", "constraints", "subset_size", "model", "error"}, rows)
}

// ReadConstraints loads the constraint extraction table.
func (t *Tables) ReadConstraints() ([]schema.ConstraintRecord, error) {
	rows, err := t.readAll(ConstraintsFile, 7)
	if err != nil {
		return nil, err
	}
	out := make([]schema.ConstraintRecord, len(rows))
	for i, r := range rows {
		subset, err := strconv.Atoi(r[4])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad subset_size %q", ConstraintsFile, i+1, r[4])
		}
		out[i] = schema.ConstraintRecord{
			Key:         schema.Key{ID: r[0], Domain: r[1]},
			MainTask:    r[2],
			Constraints: schema.Parse(r[3]),
			SubsetSize:  subset,
			Model:       r[5],
			Err:         r[6],
		}
	}
	return out, nil
}

// WriteBase persists the base generation table.
func (t *Tables) WriteBase(recs []schema.BaseRecord) error {
	rows := make([][]string, len(recs))
	for i, r := range recs {
		rows[i] = []string{r.ID, r.Domain, r.MainTask, r.BaseContent, r.Model, r.Err}
	}
	return t.writeAll(BaseFile,
		[]string{"id", "domain", "main_task", "base_content", "model", "error"}, rows)
}

// ReadBase loads the base generation table.
func (t *Tables) ReadBase() ([]schema.BaseRecord, error) {
	rows, err := t.readAll(BaseFile, 6)
	if err != nil {
		return nil, err
	}
	out := make([]schema.BaseRecord, len(rows))
	for i, r := range rows {
		out[i] = schema.BaseRecord{
			Key:         schema.Key{ID: r[0], Domain: r[1]},
			MainTask:    r[2],
			BaseContent: r[3],
			Model:       r[4],
			Err:         r[5],
		}
	}
	return out, nil
}

// WriteFitted persists the fitting table.
func (t *Tables) WriteFitted(recs []schema.FittedRecord) error {
	rows := make([][]string, len(recs))
	for i, r := range recs {
		rows[i] = []string{
			r.ID, r.Domain, r.MainTask, schema.Format(r.Constraints),
			r.BaseContent, r.FittedContent, strconv.Itoa(r.Passes), r.Model, r.Err,
		}
	}
	return t.writeAll(FittedFile,
		[]string{"id", "domain", "main_task", "constraints", "base_content", "fitted_content", "passes", "model", "error"},
		rows)
}

// ReadFitted loads the fitting table.
func (t *Tables) ReadFitted() ([]schema.FittedRecord, error) {
	rows, err := t.readAll(FittedFile, 9)
	if err != nil {
		return nil, err
	}
	out := make([]schema.FittedRecord, len(rows))
	for i, r := range rows {
		passes, err := strconv.Atoi(r[6])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad passes %q", FittedFile, i+1, r[6])
		}
		out[i] = schema.FittedRecord{
			Key:           schema.Key{ID: r[0], Domain: r[1]},
			MainTask:      r[2],
			Constraints:   schema.Parse(r[3]),
			BaseContent:   r[4],
			FittedContent: r[5],
			Passes:        passes,
			Model:         r[7],
			Err:           r[8],
		}
	}
	return out, nil
}

// WriteEvaluations persists the evaluation table.
func (t *Tables) WriteEvaluations(recs []schema.EvaluationRecord) error {
	rows := make([][]string, len(recs))
	for i, r := range recs {
		rows[i] = []string{
			r.ID, r.Domain, r.FittedContent, schema.Format(r.Constraints),
			schema.FormatVerdicts(r.Verdicts),
			strconv.Itoa(r.NumSatisfied),
			strconv.FormatFloat(r.SatisfactionRate, 'f', 4, 64),
			r.Model, r.Err,
		}
	}
	return t.writeAll(EvaluationsFile,
		[]string{"id", "domain", "fitted_content", "constraints", "verdicts", "num_satisfied", "satisfaction_rate", "model", "error"},
		rows)
}

// ReadEvaluations loads the evaluation table.
func (t *Tables) ReadEvaluations() ([]schema.EvaluationRecord, error) {
	rows, err := t.readAll(EvaluationsFile, 9)
	if err != nil {
		return nil, err
	}
	out := make([]schema.EvaluationRecord, len(rows))
	for i, r := range rows {
		numSatisfied, err := strconv.Atoi(r[5])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad num_satisfied %q", EvaluationsFile, i+1, r[5])
		}
		rate, err := strconv.ParseFloat(r[6], 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad satisfaction_rate %q", EvaluationsFile, i+1, r[6])
		}
		out[i] = schema.EvaluationRecord{
			Key:              schema.Key{ID: r[0], Domain: r[1]},
			FittedContent:    r[2],
			Constraints:      schema.Parse(r[3]),
			Verdicts:         parseVerdictCell(r[4]),
			NumSatisfied:     numSatisfied,
			SatisfactionRate: rate,
			Model:            r[7],
			Err:              r[8],
		}
	}
	return out, nil
}

// WriteQuality persists the pairwise quality comparison table.
func (t *Tables) WriteQuality(recs []schema.QualityRecord) error {
	rows := make([][]string, len(recs))
	for i, r := range recs {
		rows[i] = []string{
			r.ID, r.Domain,
			strconv.Itoa(r.SubsetA), strconv.Itoa(r.SubsetB),
			formatScore(r.GrammarA), formatScore(r.GrammarB), r.GrammarPref,
			formatScore(r.CoherenceA), formatScore(r.CoherenceB), r.CoherencePref,
			formatScore(r.LikabilityA), formatScore(r.LikabilityB), r.LikabilityPref,
			r.Overall, r.Model, r.Err,
		}
	}
	return t.writeAll(QualityFile,
		[]string{
			"id", "domain", "subset_a", "subset_b",
			"grammar_a", "grammar_b", "grammar_pref",
			"coherence_a", "coherence_b", "coherence_pref",
			"likability_a", "likability_b", "likability_pref",
			"overall", "model", "error",
		}, rows)
}

// ReadQuality loads the pairwise quality comparison table.
func (t *Tables) ReadQuality() ([]schema.QualityRecord, error) {
	rows, err := t.readAll(QualityFile, 16)
	if err != nil {
		return nil, err
	}
	out := make([]schema.QualityRecord, len(rows))
	for i, r := range rows {
		rec := schema.QualityRecord{
			Key:            schema.Key{ID: r[0], Domain: r[1]},
			GrammarPref:    r[6],
			CoherencePref:  r[9],
			LikabilityPref: r[12],
			Overall:        r[13],
			Model:          r[14],
			Err:            r[15],
		}
		var err error
		if rec.SubsetA, err = strconv.Atoi(r[2]); err != nil {
			return nil, fmt.Errorf("%s row %d: bad subset_a %q", QualityFile, i+1, r[2])
		}
		if rec.SubsetB, err = strconv.Atoi(r[3]); err != nil {
			return nil, fmt.Errorf("%s row %d: bad subset_b %q", QualityFile, i+1, r[3])
		}
		for _, col := range []struct {
			dst *float64
			raw string
		}{
			{&rec.GrammarA, r[4]}, {&rec.GrammarB, r[5]},
			{&rec.CoherenceA, r[7]}, {&rec.CoherenceB, r[8]},
			{&rec.LikabilityA, r[10]}, {&rec.LikabilityB, r[11]},
		} {
			if *col.dst, err = strconv.ParseFloat(col.raw, 64); err != nil {
				return nil, fmt.Errorf("%s row %d: bad score %q", QualityFile, i+1, col.raw)
			}
		}
		out[i] = rec
	}
	return out, nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}

var verdictCellLine = regexp.MustCompile(`^\s*(\d+)\.\s*(Yes|No)\s*-?\s*(.*)$`)

// parseVerdictCell reads back the verdict wire form written by
// schema.FormatVerdicts.
func parseVerdictCell(raw string) []schema.Verdict {
	var out []schema.Verdict
	for _, line := range strings.Split(raw, "\n") {
		m := verdictCellLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, schema.Verdict{
			Index:       idx,
			Satisfied:   m[2] == "Yes",
			Explanation: strings.TrimSpace(m[3]),
		})
	}
	return out
}
