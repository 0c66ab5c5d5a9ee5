// ///////////////////////////////////////////////////////////////////////////
//
// # recon - Dataset Reconciliation Engine
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pgedge/recon/internal/keys"
	"github.com/pgedge/recon/pkg/common"
	"github.com/pgedge/recon/pkg/types"
)

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; vertical-align: top; }
th { background: #f3f3f3; }
.verdict-ok { color: #1a7f37; }
.verdict-bad { color: #cf222e; }
.diff-chunk { background: #ffd7d5; }
.missing { color: #888; font-style: italic; }
.note { color: #888; }
</style>
</head>
<body>
<h1 class="{{if .Match}}verdict-ok{{else}}verdict-bad{{end}}">{{.Title}}</h1>
<table>
{{- range .Items}}
<tr><th>{{.Label}}</th><td>{{.Value}}</td></tr>
{{- end}}
</table>
{{- if .Rows}}
<h2>Field differences</h2>
<table>
<tr><th>Key</th><th>Field</th><th>Source</th><th>Target</th></tr>
{{- range .Rows}}
<tr><td>{{.Key}}</td><td>{{.Field}}</td><td>{{.Source}}</td><td>{{.Target}}</td></tr>
{{- end}}
</table>
{{- if .Truncated}}<p>{{.Truncated}} more differences are listed in the JSON report.</p>{{end}}
{{- end}}
{{- range .Missing}}
<h2>{{.Title}}</h2>
<table>
{{- range .Keys}}
<tr><td>{{.}}</td><td class="missing">MISSING</td></tr>
{{- end}}
</table>
{{- end}}
</body>
</html>
`

type summaryItem struct {
	Label string
	Value string
}

type diffRow struct {
	Key    string
	Field  string
	Source template.HTML
	Target template.HTML
}

type keyGroup struct {
	Title string
	Keys  []string
}

type htmlData struct {
	Title     string
	Match     bool
	Items     []summaryItem
	Rows      []diffRow
	Truncated string
	Missing   []keyGroup
}

const htmlRowLimit = 5000

func writeHTML(doc Document, jsonPath string) (string, error) {
	s := doc.Summary
	data := htmlData{Match: doc.Match}
	if doc.Match {
		data.Title = common.CheckMark + " Datasets match"
	} else {
		data.Title = common.CrossMark + " Datasets do not match"
	}

	items := []summaryItem{
		{Label: "Source", Value: doc.Meta.Source},
		{Label: "Target", Value: doc.Meta.Target},
		{Label: "Rules", Value: doc.Meta.Rules},
		{Label: "Engine", Value: doc.Engine},
		{Label: "Primary Key", Value: formatPrimaryKey(s.PrimaryKey)},
		{Label: "Source Rows", Value: formatInt64WithCommas(int64(s.TotalSource))},
		{Label: "Target Rows", Value: formatInt64WithCommas(int64(s.TotalTarget))},
		{Label: "Common Keys", Value: formatInt64WithCommas(int64(s.Common))},
		{Label: "Missing In Target", Value: formatInt64WithCommas(int64(s.Missing))},
		{Label: "Extra In Target", Value: formatInt64WithCommas(int64(s.Extra))},
		{Label: "Mismatched Keys", Value: formatInt64WithCommas(int64(s.Mismatched))},
		{Label: "Mismatch Ratio", Value: strconv.FormatFloat(s.MismatchRatio*100, 'f', 2, 64) + "%"},
		{Label: "Empty Source Keys", Value: formatInt64WithCommas(int64(s.EmptyKeySource))},
		{Label: "Empty Target Keys", Value: formatInt64WithCommas(int64(s.EmptyKeyTarget))},
		{Label: "Skipped Fields", Value: strings.Join(s.SkippedFields, ", ")},
		{Label: "Time Taken", Value: formatDurationHuman(doc.Meta.TimeTaken)},
		{Label: "Finished", Value: formatTimestampHuman(doc.Meta.FinishedAt)},
	}
	for _, item := range items {
		if item.Value != "" && item.Value != "0" {
			data.Items = append(data.Items, item)
		}
	}

	shown := 0
	for _, d := range doc.Diffs {
		for _, f := range d.Fields {
			if shown == htmlRowLimit {
				break
			}
			src, tgt := highlightDifference(common.Stringify(f.SourceValue), common.Stringify(f.TargetValue))
			data.Rows = append(data.Rows, diffRow{Key: keys.Display(d.Key), Field: f.Field,
				Source: withNote(src, f.SourceCode), Target: withNote(tgt, f.TargetName)})
			shown++
		}
	}
	if total := countFields(doc.Diffs); total > shown {
		data.Truncated = formatInt64WithCommas(int64(total - shown))
	}

	if len(doc.Missing) > 0 {
		data.Missing = append(data.Missing, keyGroup{Title: "Missing in target", Keys: displayKeys(doc.Missing)})
	}
	if len(doc.Extra) > 0 {
		data.Missing = append(data.Missing, keyGroup{Title: "Only in target", Keys: displayKeys(doc.Extra)})
	}

	tmpl, err := template.New("reconReport").Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render HTML report: %w", err)
	}
	htmlPath := strings.TrimSuffix(jsonPath, filepath.Ext(jsonPath)) + ".html"
	if err := os.WriteFile(htmlPath, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write HTML report: %w", err)
	}
	return htmlPath, nil
}

func countFields(diffs []types.DiffEntry) int {
	n := 0
	for _, d := range diffs {
		n += len(d.Fields)
	}
	return n
}

func displayKeys(rows []KeyedRow) []string {
	out := make([]string, 0, min(len(rows), htmlRowLimit))
	for _, r := range rows {
		if len(out) == htmlRowLimit {
			break
		}
		out = append(out, keys.Display(r.Key))
	}
	return out
}

// highlightDifference wraps the differing middle of two values in a span,
// keeping the common prefix and suffix plain.
// withNote appends a mapped code or name after a highlighted value.
func withNote(v template.HTML, note string) template.HTML {
	if note == "" {
		return v
	}
	return v + template.HTML(` <span class="note">(`+template.HTMLEscapeString(note)+`)</span>`)
}

func highlightDifference(a, b string) (template.HTML, template.HTML) {
	if a == b {
		esc := template.HTMLEscapeString(a)
		return template.HTML(esc), template.HTML(esc)
	}

	runesA := []rune(a)
	runesB := []rune(b)

	prefix := 0
	maxPrefix := min(len(runesA), len(runesB))
	for prefix < maxPrefix && runesA[prefix] == runesB[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < len(runesA)-prefix && suffix < len(runesB)-prefix &&
		runesA[len(runesA)-suffix-1] == runesB[len(runesB)-suffix-1] {
		suffix++
	}

	return renderHighlighted(runesA, prefix, suffix), renderHighlighted(runesB, prefix, suffix)
}

func renderHighlighted(value []rune, prefix, suffix int) template.HTML {
	var builder strings.Builder
	if prefix > 0 {
		builder.WriteString(template.HTMLEscapeString(string(value[:prefix])))
	}
	middleLen := len(value) - prefix - suffix
	if middleLen > 0 {
		builder.WriteString(`<span class="diff-chunk">`)
		builder.WriteString(template.HTMLEscapeString(string(value[prefix : prefix+middleLen])))
		builder.WriteString(`</span>`)
	}
	if suffix > 0 {
		builder.WriteString(template.HTMLEscapeString(string(value[len(value)-suffix:])))
	}
	return template.HTML(builder.String())
}

func formatInt64WithCommas(value int64) string {
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}

	s := strconv.FormatInt(value, 10)
	n := len(s)
	if n <= 3 {
		return sign + s
	}

	var builder strings.Builder
	builder.Grow(len(s) + len(s)/3)

	remainder := n % 3
	if remainder == 0 {
		remainder = 3
	}
	builder.WriteString(s[:remainder])
	for i := remainder; i < n; i += 3 {
		builder.WriteString(",")
		builder.WriteString(s[i : i+3])
	}

	return sign + builder.String()
}

func formatDurationHuman(durationStr string) string {
	if durationStr == "" {
		return ""
	}
	dur, err := time.ParseDuration(durationStr)
	if err != nil {
		return durationStr
	}
	switch {
	case dur < time.Millisecond:
		return fmt.Sprintf("%dµs", dur/time.Microsecond)
	case dur < time.Second:
		return fmt.Sprintf("%.2f ms", float64(dur)/float64(time.Millisecond))
	case dur < time.Minute:
		return fmt.Sprintf("%.2f s", dur.Seconds())
	}
	minutes := int(dur.Minutes())
	seconds := int(dur.Seconds()) % 60
	if dur < time.Hour {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm %ds", minutes/60, minutes%60, seconds)
}

func formatTimestampHuman(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Format("02 Jan 2006 15:04:05 MST")
}

func formatPrimaryKey(pk []string) string {
	if len(pk) == 0 {
		return "N/A"
	}
	return strings.Join(pk, ", ")
}
