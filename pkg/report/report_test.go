package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
)

func sampleResult(t *testing.T) (*types.Result, *types.Dataset, *types.Dataset) {
	t.Helper()
	cols := []string{"id", "name"}
	src, err := types.DatasetFromRows("s", cols, [][]any{{"A", "a"}, {"B", "<b>"}})
	require.NoError(t, err)
	tgt, err := types.DatasetFromRows("t", cols, [][]any{{"B", "<c>"}, {"D", "d"}})
	require.NoError(t, err)
	res := &types.Result{
		Engine: "vectorized",
		Summary: types.Summary{
			PrimaryKey: []string{"id"}, TotalSource: 2, TotalTarget: 2,
			Missing: 1, Extra: 1, Common: 1, Mismatched: 1, MismatchRatio: 1,
		},
		Missing: []types.KeyRef{{Key: "A", SourceRow: 0, TargetRow: -1}},
		Extra:   []types.KeyRef{{Key: "D", SourceRow: -1, TargetRow: 1}},
		Diffs: []types.DiffEntry{{
			Key:    "B",
			Fields: []types.FieldDiff{{Field: "name", SourceValue: "<b>", TargetValue: "<c>"}},
			Source: map[string]any{"id": "B", "name": "<b>"},
			Target: map[string]any{"id": "B", "name": "<c>"},
		}},
	}
	return res, src, tgt
}

func TestFileName(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	assert.Equal(t, "平台_vs_erp_assets_recon-20240506070809.json", FileName("/data/平台.csv", "pg:erp.assets", at))
	assert.Equal(t, "a_b_vs_dataset_recon-20240506070809.json", FileName("a b.csv", "", at))
}

func TestBaseNameFallsBackToDataset(t *testing.T) {
	for _, loc := range []string{"", ".", "..", "/", "pg:", "???.csv"} {
		assert.Equal(t, "dataset", baseName(loc), loc)
	}
	assert.Equal(t, "erp_assets", baseName("pg:erp.assets"))
	assert.Equal(t, "平台", baseName("/data/平台.csv"))
}

func TestBuildAndWrite(t *testing.T) {
	res, src, tgt := sampleResult(t)
	finished := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	doc := Build(Meta{Source: "platform.csv", Target: "erp.csv", FinishedAt: finished, TimeTaken: "1.5s"}, res, src, tgt)

	assert.False(t, doc.Match)
	require.Len(t, doc.Missing, 1)
	assert.Equal(t, map[string]any{"id": "A", "name": "a"}, doc.Missing[0].Row)
	require.Len(t, doc.Extra, 1)
	assert.Equal(t, "d", doc.Extra[0].Row["name"])

	dir := t.TempDir()
	path, err := Write(doc, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "platform_vs_erp_recon-20240506070809.json"), path)

	back, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, doc.Summary, back.Summary)
	assert.Equal(t, "B", back.Diffs[0].Key)

	html, err := os.ReadFile(strings.TrimSuffix(path, ".json") + ".html")
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "Datasets do not match")
	assert.Contains(t, page, `&lt;<span class="diff-chunk">b</span>&gt;`)
	assert.Contains(t, page, "Missing in target")
	assert.NotContains(t, page, "<b>")
}

func TestLogOutcome(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	res, _, _ := sampleResult(t)
	res.Diffs = append(res.Diffs, res.Diffs[0], res.Diffs[0])
	LogOutcome(res, 1)
	out := buf.String()
	assert.Contains(t, out, "DATASETS DO NOT MATCH")
	assert.Contains(t, out, "1 keys missing in target")
	assert.Contains(t, out, "name [<b>] vs [<c>]")
	assert.Contains(t, out, "...2 more")

	buf.Reset()
	LogOutcome(&types.Result{Summary: types.Summary{Common: 3}}, 0)
	assert.Contains(t, buf.String(), "DATASETS MATCH (3 keys compared)")
}

func TestMappedValueNotes(t *testing.T) {
	d := types.DiffEntry{Key: "ZC0001", Fields: []types.FieldDiff{
		{Field: "资产分类", SourceValue: "机器设备", TargetValue: "3101", SourceCode: "4102", TargetName: "房屋及建筑物"},
		{Field: "name", SourceValue: "a", TargetValue: "b"},
	}}
	assert.Equal(t, "资产分类 [机器设备 (4102)] vs [3101 (房屋及建筑物)]; name [a] vs [b]", describe(d))

	res, src, tgt := sampleResult(t)
	res.Diffs[0].Fields[0].SourceCode = "<x>"
	doc := Build(Meta{Source: "s.csv", Target: "t.csv"}, res, src, tgt)
	path, err := writeHTML(doc, filepath.Join(t.TempDir(), "r.json"))
	require.NoError(t, err)
	html, err := os.ReadFile(path)
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, `<span class="note">(&lt;x&gt;)</span>`)
	assert.NotContains(t, page, `class="note">()`)
}

func TestHighlightDifference(t *testing.T) {
	tests := []struct {
		a, b         string
		wantA, wantB string
	}{
		{"same", "same", "same", "same"},
		{"abc", "axc", `a<span class="diff-chunk">b</span>c`, `a<span class="diff-chunk">x</span>c`},
		{"东站", "东区", `东<span class="diff-chunk">站</span>`, `东<span class="diff-chunk">区</span>`},
		{"ab", "abb", "ab", `ab<span class="diff-chunk">b</span>`},
	}
	for _, tc := range tests {
		a, b := highlightDifference(tc.a, tc.b)
		assert.Equal(t, tc.wantA, string(a))
		assert.Equal(t, tc.wantB, string(b))
	}
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "1,234,567", formatInt64WithCommas(1234567))
	assert.Equal(t, "-1,000", formatInt64WithCommas(-1000))
	assert.Equal(t, "999", formatInt64WithCommas(999))
	assert.Equal(t, "1.50 s", formatDurationHuman("1.5s"))
	assert.Equal(t, "2m 5s", formatDurationHuman("125s"))
	assert.Equal(t, "garbage", formatDurationHuman("garbage"))
	assert.Equal(t, "N/A", formatPrimaryKey(nil))
}
