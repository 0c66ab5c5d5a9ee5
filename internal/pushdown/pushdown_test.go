package pushdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/recon/internal/compare"
	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/internal/rules"
	"github.com/pgedge/recon/pkg/types"
)

type scripted struct {
	match string
	rows  [][]any
	err   error
}

// fakeStore answers queries from a script, in order, and records every
// statement it is given.
type fakeStore struct {
	script  []scripted
	execs   []string
	queries []string
	copies  map[string][][]any
	copyN   map[string]int
	execErr func(sql string) error
}

func newFakeStore(script ...scripted) *fakeStore {
	return &fakeStore{script: script, copies: map[string][][]any{}, copyN: map[string]int{}}
}

func (f *fakeStore) Exec(_ context.Context, sql string, _ ...any) error {
	f.execs = append(f.execs, sql)
	if f.execErr != nil {
		return f.execErr(sql)
	}
	return nil
}

func (f *fakeStore) Query(_ context.Context, sql string, scan func([]any) error, _ ...any) error {
	f.queries = append(f.queries, sql)
	if len(f.script) == 0 {
		return fmt.Errorf("unexpected query: %s", sql)
	}
	next := f.script[0]
	f.script = f.script[1:]
	if !strings.Contains(sql, next.match) {
		return fmt.Errorf("query does not contain %q: %s", next.match, sql)
	}
	if next.err != nil {
		return next.err
	}
	for _, r := range next.rows {
		if err := scan(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) CopyRows(_ context.Context, schema, table string, _ []string, rows [][]any) (int64, error) {
	name := schema + "." + table
	f.copies[name] = append(f.copies[name], rows...)
	f.copyN[name]++
	return int64(len(rows)), nil
}

func (f *fakeStore) Close() {}

func (f *fakeStore) drops() []string {
	var out []string
	for _, sql := range f.execs {
		if strings.Contains(sql, "DROP TABLE") {
			out = append(out, strings.TrimSpace(sql))
		}
	}
	return out
}

const simpleRules = `
fields:
  - field: id
    primary: true
  - field: name
  - field: amount
    type: numeric
    tolerance: 0.01
`

func simpleInput(t *testing.T) compare.Input {
	t.Helper()
	m, err := rules.Parse([]byte(simpleRules))
	require.NoError(t, err)
	cols := []string{"id", "name", "amount"}
	src, err := types.DatasetFromRows("source", cols, [][]any{
		{"A", "alpha", 1.0},
		{"B", "beta", 2.0},
		{"C", "gamma", 3.0},
	})
	require.NoError(t, err)
	tgt, err := types.DatasetFromRows("target", cols, [][]any{
		{"B", "beta", "2.004"},
		{"C", "GAMMA", "3"},
		{"D", "delta", "4"},
	})
	require.NoError(t, err)
	return compare.Input{Rules: m, Source: src, Target: tgt}
}

func keyScript(srcDup, tgtDup [][]any) []scripted {
	return []scripted{
		{match: "count(*)", rows: [][]any{{int64(0)}}},
		{match: "HAVING", rows: srcDup},
		{match: "count(*)", rows: [][]any{{int64(1)}}},
		{match: "HAVING", rows: tgtDup},
	}
}

func TestPushdownEndToEnd(t *testing.T) {
	script := append(keyScript(nil, nil),
		scripted{match: `LEFT JOIN "public"."run_tgt" b ON`, rows: [][]any{{"A", int64(0)}}},
		scripted{match: `LEFT JOIN "public"."run_src" b ON`, rows: [][]any{{"D", int64(2)}}},
		scripted{match: `JOIN "public"."run_tgt" t ON`, rows: [][]any{{"B", int64(1), int64(0)}, {"C", int64(2), int64(1)}}},
		scripted{match: "NOT COALESCE", rows: [][]any{{"C", int64(2), int64(1), true, "GAMMA", false, "3"}}},
	)
	store := newFakeStore(script...)
	rec := &recon.Recorder{}
	p := Pushdown{Store: store, Prefix: "run", InsertBatchSize: 2}

	res, err := compare.Run(context.Background(), p, simpleInput(t), rec)
	require.NoError(t, err)
	assert.Empty(t, store.script)

	s := res.Summary
	assert.Equal(t, EnginePushdown, res.Engine)
	assert.Equal(t, 1, s.Missing)
	assert.Equal(t, 1, s.Extra)
	assert.Equal(t, 2, s.Common)
	assert.Equal(t, 1, s.Mismatched)
	assert.Equal(t, 1, s.EmptyKeyTarget)
	assert.InDelta(t, 0.5, s.MismatchRatio, 1e-9)

	require.Len(t, res.Diffs, 1)
	d := res.Diffs[0]
	assert.Equal(t, "C", d.Key)
	assert.Equal(t, []string{"name"}, d.FieldNames())
	assert.Equal(t, "gamma", d.Fields[0].SourceValue)
	assert.Equal(t, "GAMMA", d.Fields[0].TargetValue)
	assert.Equal(t, 3.0, d.Source["amount"])

	assert.Equal(t, 2, store.copyN["public.run_src"])
	require.Len(t, store.copies["public.run_src"], 3)
	assert.Equal(t, []any{int64(2), "C", "gamma", "3"}, store.copies["public.run_src"][2])

	assert.Equal(t, []string{
		`DROP TABLE IF EXISTS "public"."run_tgt"`,
		`DROP TABLE IF EXISTS "public"."run_src"`,
	}, store.drops())
	assert.Contains(t, strings.Join(rec.Texts(recon.LevelWarn), "\n"), "target has 1 rows with an empty primary key component")
}

func TestPushdownDuplicateKeys(t *testing.T) {
	store := newFakeStore(keyScript([][]any{{"B", int64(2)}, {"C", int64(3)}}, nil)...)
	in := simpleInput(t)
	in.DuplicateSample = 1
	_, err := compare.Run(context.Background(), Pushdown{Store: store, Prefix: "run"}, in, recon.Discard)

	var dup *recon.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "source", dup.Side)
	assert.Equal(t, 5, dup.Rows)
	assert.Equal(t, []string{"B"}, dup.Sample)
	assert.Len(t, store.drops(), 2)
}

func TestPushdownQueryFailureCleansUp(t *testing.T) {
	sentinel := errors.New("connection reset")
	store := newFakeStore(scripted{match: "count(*)", err: sentinel})
	_, err := compare.Run(context.Background(), Pushdown{Store: store, Prefix: "run"}, simpleInput(t), recon.Discard)
	assert.ErrorIs(t, err, sentinel)
	assert.Len(t, store.drops(), 2)
}

func TestPushdownDerivationFailureSkipsField(t *testing.T) {
	m, err := rules.Parse([]byte(`
fields:
  - field: id
    primary: true
  - field: 净值
    type: numeric
    derivation: 原值 / 数量
`))
	require.NoError(t, err)
	src, err := types.DatasetFromRows("s", []string{"id", "净值"}, [][]any{{"1", "10"}})
	require.NoError(t, err)
	tgt, err := types.DatasetFromRows("t", []string{"id", "原值", "数量"}, [][]any{{"1", "20", "2"}})
	require.NoError(t, err)

	store := newFakeStore(append(keyScript(nil, nil),
		scripted{match: "LEFT JOIN"},
		scripted{match: "LEFT JOIN"},
		scripted{match: "JOIN", rows: [][]any{{"1", int64(0), int64(0)}}},
	)...)
	store.execErr = func(sql string) error {
		if strings.Contains(sql, "NULLIF") {
			return errors.New("numeric field overflow")
		}
		return nil
	}
	rec := &recon.Recorder{}
	res, err := compare.Run(context.Background(), Pushdown{Store: store, Prefix: "run"}, compare.Input{Rules: m, Source: src, Target: tgt}, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"净值"}, res.Summary.SkippedFields)
	assert.True(t, res.Match())
	assert.Contains(t, strings.Join(rec.Texts(recon.LevelWarn), "\n"), "numeric field overflow")
}

func TestPushdownRejectsBadSchema(t *testing.T) {
	_, err := compare.Run(context.Background(), Pushdown{Store: newFakeStore(), Schema: "bad-schema"}, simpleInput(t), recon.Discard)
	var cfg *recon.ConfigurationError
	require.ErrorAs(t, err, &cfg)
}

func TestPushdownPrefixIsUnique(t *testing.T) {
	a, b := Pushdown{}.prefix(), Pushdown{}.prefix()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "recon_"))
	assert.Len(t, a, len("recon_")+12)
}

func TestPushdownMappedField(t *testing.T) {
	m, err := rules.Parse([]byte(`
fields:
  - field: id
    primary: true
  - field: cat
mappings:
  cat:
    values:
      房屋及建筑物: "3101"
      机器设备: "4102"
`))
	require.NoError(t, err)
	cols := []string{"id", "cat"}
	src, err := types.DatasetFromRows("s", cols, [][]any{{"1", "房屋及建筑物"}, {"2", "机器设备"}})
	require.NoError(t, err)
	tgt, err := types.DatasetFromRows("t", cols, [][]any{{"1", "3101"}, {"2", "3101"}})
	require.NoError(t, err)

	store := newFakeStore(
		scripted{match: "count(*)", rows: [][]any{{int64(0)}}},
		scripted{match: "HAVING"},
		scripted{match: "count(*)", rows: [][]any{{int64(0)}}},
		scripted{match: "HAVING"},
		scripted{match: "LEFT JOIN"},
		scripted{match: "LEFT JOIN"},
		scripted{match: "JOIN", rows: [][]any{{"1", int64(0), int64(0)}, {"2", int64(1), int64(1)}}},
		scripted{match: `s."m0"`, rows: [][]any{{"2", int64(1), int64(1), true, "3101"}}},
	)
	res, err := compare.Run(context.Background(), Pushdown{Store: store, Prefix: "run"}, compare.Input{Rules: m, Source: src, Target: tgt}, recon.Discard)
	require.NoError(t, err)
	assert.Empty(t, store.script)

	assert.Equal(t, [][]any{{"房屋及建筑物", "3101"}, {"机器设备", "4102"}}, store.copies["public.run_mp0"])
	var added bool
	for _, sql := range store.execs {
		if strings.Contains(sql, `COALESCE((SELECT m.code FROM "public"."run_mp0" m WHERE m.name = `) {
			added = true
		}
	}
	assert.True(t, added, "mapped source column must be staged")

	require.Len(t, res.Diffs, 1)
	f := res.Diffs[0].Fields[0]
	assert.Equal(t, "cat", f.Field)
	assert.Equal(t, "4102", f.SourceCode)
	assert.Equal(t, "房屋及建筑物", f.TargetName)
	assert.Contains(t, store.drops(), `DROP TABLE IF EXISTS "public"."run_mp0"`)
}
