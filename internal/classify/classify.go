// Package classify compares raw job output against a reference output and
// renders a verdict.
//
// Artifacts are aligned by name. A difference in the artifact sets is a
// structural mismatch (exit code 1) and dominates everything else. Content
// is compared line by line on whitespace-separated fields: numeric fields
// within tolerance are equal, everything else must match exactly. JSON
// artifacts are compared record by record instead. All differences are
// collected; classification never stops at the first.
package classify

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cyclab/aurora/internal/models"
)

// Options controls numeric comparison. Zero values mean exact comparison.
type Options struct {
	AbsoluteTolerance float64
	RelativeTolerance float64
}

// DefaultOptions is the tolerance envelope used by the daemon: a pair of
// small tolerances absorbing floating point formatting noise.
func DefaultOptions() Options {
	return Options{AbsoluteTolerance: 1e-9, RelativeTolerance: 1e-6}
}

// Classifier compares outputs and produces verdicts.
type Classifier struct {
	opts Options
}

// New creates a classifier with the given comparison options.
func New(opts Options) *Classifier {
	return &Classifier{opts: opts}
}

// isClose reports whether two numeric values agree within tolerance, using
// the reference value to scale the relative term.
func (c *Classifier) isClose(ref, got float64) bool {
	if ref == got {
		return true
	}
	diff := ref - got
	if diff < 0 {
		diff = -diff
	}
	scale := ref
	if scale < 0 {
		scale = -scale
	}
	return diff <= c.opts.AbsoluteTolerance+c.opts.RelativeTolerance*scale
}

// Classify compares actual output against the reference and returns the
// verdict for the job. The inputs are not modified.
func (c *Classifier) Classify(jobID string, actual, reference *models.RawOutput) *models.Verdict {
	v := &models.Verdict{
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
	}

	actualNames := make(map[string]bool, len(actual.Artifacts))
	for _, a := range actual.Artifacts {
		actualNames[a.Name] = true
	}
	refNames := make(map[string]bool, len(reference.Artifacts))
	for _, a := range reference.Artifacts {
		refNames[a.Name] = true
	}

	structural := false
	for _, ref := range reference.Artifacts {
		if !actualNames[ref.Name] {
			structural = true
			v.Differences = append(v.Differences, models.Difference{
				Artifact: ref.Name,
				Kind:     models.DiffMissingArtifact,
			})
		}
	}
	for _, act := range actual.Artifacts {
		if !refNames[act.Name] {
			structural = true
			v.Differences = append(v.Differences, models.Difference{
				Artifact: act.Name,
				Kind:     models.DiffExtraArtifact,
			})
		}
	}

	content := false
	for _, ref := range reference.Artifacts {
		act, ok := actual.Artifact(ref.Name)
		if !ok {
			continue
		}
		var diffs []models.Difference
		if strings.HasSuffix(ref.Name, ".json") {
			var aerr *models.ArtifactError
			diffs, aerr = c.compareJSON(ref.Name, act.Content, ref.Content)
			if aerr != nil {
				v.ArtifactErrors = append(v.ArtifactErrors, *aerr)
				content = true
				continue
			}
		} else {
			diffs = c.compareLines(ref.Name, act.Content, ref.Content)
		}
		if len(diffs) > 0 {
			content = true
			v.Differences = append(v.Differences, diffs...)
		}
	}

	switch {
	case structural:
		v.ExitCode = models.VerdictStructural
	case content:
		v.ExitCode = models.VerdictContent
	default:
		v.ExitCode = models.VerdictMatch
	}
	return v
}

// compareLines diffs two plain text artifacts line by line and field by
// field. Numeric fields use the tolerance envelope; other fields must match
// exactly.
func (c *Classifier) compareLines(name string, actual, reference []byte) []models.Difference {
	var diffs []models.Difference

	actLines := splitLines(actual)
	refLines := splitLines(reference)
	if len(actLines) != len(refLines) {
		diffs = append(diffs, models.Difference{
			Artifact: name,
			Kind:     models.DiffLineCount,
			Want:     strconv.Itoa(len(refLines)),
			Got:      strconv.Itoa(len(actLines)),
		})
	}

	n := len(refLines)
	if len(actLines) < n {
		n = len(actLines)
	}
	for i := 0; i < n; i++ {
		actFields := strings.Fields(actLines[i])
		refFields := strings.Fields(refLines[i])
		if len(actFields) != len(refFields) {
			diffs = append(diffs, models.Difference{
				Artifact: name,
				Kind:     models.DiffFieldCount,
				Line:     i + 1,
				Want:     strconv.Itoa(len(refFields)),
				Got:      strconv.Itoa(len(actFields)),
			})
			continue
		}
		for f := range refFields {
			if c.fieldsEqual(refFields[f], actFields[f]) {
				continue
			}
			diffs = append(diffs, models.Difference{
				Artifact: name,
				Kind:     models.DiffFieldValue,
				Line:     i + 1,
				Field:    f + 1,
				Want:     refFields[f],
				Got:      actFields[f],
			})
		}
	}
	return diffs
}

func (c *Classifier) fieldsEqual(ref, got string) bool {
	if ref == got {
		return true
	}
	refNum, refErr := strconv.ParseFloat(ref, 64)
	gotNum, gotErr := strconv.ParseFloat(got, 64)
	if refErr != nil || gotErr != nil {
		return false
	}
	return c.isClose(refNum, gotNum)
}

// compareJSON diffs two structured artifacts record by record. Content that
// does not parse is a per-artifact classification error, not an abort.
func (c *Classifier) compareJSON(name string, actual, reference []byte) ([]models.Difference, *models.ArtifactError) {
	var refVal, actVal any
	if err := json.Unmarshal(reference, &refVal); err != nil {
		return nil, &models.ArtifactError{Artifact: name, Reason: fmt.Sprintf("reference not valid JSON: %v", err)}
	}
	if err := json.Unmarshal(actual, &actVal); err != nil {
		return nil, &models.ArtifactError{Artifact: name, Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}

	var diffs []models.Difference
	c.walkJSON(name, "", refVal, actVal, &diffs)
	return diffs, nil
}

func (c *Classifier) walkJSON(artifact, path string, ref, got any, diffs *[]models.Difference) {
	record := func(want, have string) {
		*diffs = append(*diffs, models.Difference{
			Artifact: artifact,
			Kind:     models.DiffRecordValue,
			Path:     path,
			Want:     want,
			Got:      have,
		})
	}

	switch refTyped := ref.(type) {
	case map[string]any:
		gotMap, ok := got.(map[string]any)
		if !ok {
			record(describeJSON(ref), describeJSON(got))
			return
		}
		keys := make([]string, 0, len(refTyped))
		for k := range refTyped {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := joinPath(path, k)
			gv, present := gotMap[k]
			if !present {
				*diffs = append(*diffs, models.Difference{
					Artifact: artifact, Kind: models.DiffRecordValue, Path: child,
					Want: describeJSON(refTyped[k]), Got: "(missing)",
				})
				continue
			}
			c.walkJSON(artifact, child, refTyped[k], gv, diffs)
		}
		extras := make([]string, 0)
		for k := range gotMap {
			if _, present := refTyped[k]; !present {
				extras = append(extras, k)
			}
		}
		sort.Strings(extras)
		for _, k := range extras {
			*diffs = append(*diffs, models.Difference{
				Artifact: artifact, Kind: models.DiffRecordValue, Path: joinPath(path, k),
				Want: "(absent)", Got: describeJSON(gotMap[k]),
			})
		}
	case []any:
		gotArr, ok := got.([]any)
		if !ok {
			record(describeJSON(ref), describeJSON(got))
			return
		}
		if len(gotArr) != len(refTyped) {
			record(fmt.Sprintf("%d records", len(refTyped)), fmt.Sprintf("%d records", len(gotArr)))
		}
		n := len(refTyped)
		if len(gotArr) < n {
			n = len(gotArr)
		}
		for i := 0; i < n; i++ {
			c.walkJSON(artifact, fmt.Sprintf("%s[%d]", path, i), refTyped[i], gotArr[i], diffs)
		}
	case float64:
		gotNum, ok := got.(float64)
		if !ok || !c.isClose(refTyped, gotNum) {
			record(describeJSON(ref), describeJSON(got))
		}
	default:
		// strings, bools, nulls: exact
		if !equalJSONScalar(ref, got) {
			record(describeJSON(ref), describeJSON(got))
		}
	}
}

func equalJSONScalar(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	return false
}

func describeJSON(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		return "(object)"
	case []any:
		return fmt.Sprintf("(%d records)", len(t))
	}
	return fmt.Sprintf("%v", v)
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func splitLines(data []byte) []string {
	s := strings.TrimRight(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// measurementUnits maps quantity channels to display units.
var measurementUnits = map[string]string{
	"voltage":  "V",
	"current":  "A",
	"capacity": "Ah",
}

// Summarize reduces a raw output to its final measurement per series
// artifact, in collection order. Non-series artifacts are skipped.
func Summarize(output *models.RawOutput) []models.Measurement {
	var ms []models.Measurement
	for _, a := range output.Artifacts {
		if !strings.HasSuffix(a.Name, ".dat") {
			continue
		}
		lines := splitLines(a.Content)
		if len(lines) == 0 {
			continue
		}
		fields := strings.Fields(lines[len(lines)-1])
		if len(fields) < 2 {
			continue
		}
		val, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(a.Name, ".dat")
		ms = append(ms, models.Measurement{
			Name:  name,
			Value: val,
			Unit:  measurementUnits[name],
		})
	}
	return ms
}
