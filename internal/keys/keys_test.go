package keys

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/pkg/common"
	"github.com/pgedge/recon/pkg/types"
)

func dataset(t *testing.T, name string, cols []string, rows ...[]any) *types.Dataset {
	t.Helper()
	ds, err := types.DatasetFromRows(name, cols, rows)
	require.NoError(t, err)
	return ds
}

func TestCompose(t *testing.T) {
	key, empty := Compose([]any{" A ", 1001.0, "x"})
	assert.Equal(t, "A||1001||x", key)
	assert.False(t, empty)

	key, empty = Compose([]any{"A", nil})
	assert.Equal(t, "A||", key)
	assert.True(t, empty)
}

func TestResolvePartitions(t *testing.T) {
	src := dataset(t, "src", []string{"id", "co"},
		[]any{"A", "1"}, []any{"B", "1"}, []any{"C", "1"})
	tgt := dataset(t, "tgt", []string{"编号", "公司"},
		[]any{"D", "1"}, []any{"C", "1"}, []any{"B ", "1"})

	res, err := Resolve(src, tgt, []string{"id", "co"}, []string{"编号", "公司"}, 5)
	require.NoError(t, err)

	assert.Equal(t, []types.KeyRef{{Key: "A||1", SourceRow: 0, TargetRow: -1}}, res.Missing)
	assert.Equal(t, []types.KeyRef{{Key: "D||1", SourceRow: -1, TargetRow: 0}}, res.Extra)
	assert.Equal(t, []types.KeyRef{
		{Key: "B||1", SourceRow: 1, TargetRow: 2},
		{Key: "C||1", SourceRow: 2, TargetRow: 1},
	}, res.Common)
}

func TestPartitionCoversUnionWithoutOverlap(t *testing.T) {
	src := dataset(t, "src", []string{"id"}, []any{"1"}, []any{"2"}, []any{"3"}, []any{"5"})
	tgt := dataset(t, "tgt", []string{"id"}, []any{"2"}, []any{"4"}, []any{"5"}, []any{"6"})
	res, err := Resolve(src, tgt, []string{"id"}, []string{"id"}, 5)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, set := range [][]types.KeyRef{res.Common, res.Missing, res.Extra} {
		for _, k := range set {
			seen[k.Key]++
		}
	}
	assert.Len(t, seen, 6)
	for k, n := range seen {
		assert.Equal(t, 1, n, k)
	}
}

func TestDuplicateKeys(t *testing.T) {
	src := dataset(t, "src", []string{"id", "co"},
		[]any{"A", "1"}, []any{"B", "1"}, []any{"A ", "1"}, []any{"C", "2"}, []any{"C", "2"}, []any{"C", "2"})
	tgt := dataset(t, "tgt", []string{"id", "co"}, []any{"A", "1"})

	_, err := Resolve(src, tgt, []string{"id", "co"}, []string{"id", "co"}, 1)
	var dup *recon.DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, SideSource, dup.Side)
	assert.Equal(t, 5, dup.Rows)
	assert.Equal(t, []string{"A||1"}, dup.Sample)
	assert.Contains(t, err.Error(), "5 rows with duplicate primary keys")
}

func TestEmptyKeyComponentsAreCounted(t *testing.T) {
	src := dataset(t, "src", []string{"id", "co"}, []any{"A", ""}, []any{nil, "1"}, []any{"B", "1"})
	tgt := dataset(t, "tgt", []string{"id", "co"}, []any{"A", " "})
	res, err := Resolve(src, tgt, []string{"id", "co"}, []string{"id", "co"}, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Source.Empty)
	assert.Equal(t, 1, res.Target.Empty)
	require.Len(t, res.Common, 1)
	assert.Equal(t, "A||", res.Common[0].Key)
}

func TestResolveRejectsKeyShapeMismatch(t *testing.T) {
	src := dataset(t, "src", []string{"id"}, []any{"1"})
	_, err := Resolve(src, src, []string{"id"}, nil, 5)
	var cfg *recon.ConfigurationError
	require.True(t, errors.As(err, &cfg))

	_, err = Resolve(src, src, []string{"nope"}, []string{"id"}, 5)
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, []string{"nope"}, cfg.MissingSource)
}

func TestSnapshotFallsBackToRow(t *testing.T) {
	ds := dataset(t, "src", []string{"id", "v"}, []any{"A", "1"}, []any{"B", "2"})
	idx, err := Build(SideSource, ds, []string{"id"}, 5)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"id": "B", "v": "2"}, Snapshot(ds, idx, "B", 0))
	assert.Equal(t, map[string]any{"id": "A", "v": "1"}, Snapshot(ds, idx, "missing", 0))
	assert.Equal(t, map[string]any{"id": "B", "v": "2"}, Snapshot(ds, nil, "A", 1))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "A + 1", Display("A||1"))
	assert.Equal(t, "x||y + z", Display(`x\|\|y||z`))
}

func TestComposeEscapesDelimiter(t *testing.T) {
	tests := []struct {
		name  string
		left  []any
		right []any
	}{
		{"pipes move between components", []any{"x||y", "z"}, []any{"x", "y||z"}},
		{"trailing pipe", []any{"x|", "y"}, []any{"x", "|y"}},
		{"escape character", []any{`x\`, "y"}, []any{"x", `\y`}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := Compose(tc.left)
			b, _ := Compose(tc.right)
			assert.NotEqual(t, a, b)
			assert.Equal(t, []string{common.Normalize(tc.left[0]), common.Normalize(tc.left[1])}, Split(a))
			assert.Equal(t, []string{common.Normalize(tc.right[0]), common.Normalize(tc.right[1])}, Split(b))
		})
	}
}

func TestBuildKeepsPipeKeysDistinct(t *testing.T) {
	ds := dataset(t, "src", []string{"a", "b"}, []any{"x||y", "z"}, []any{"x", "y||z"})
	idx, err := Build(SideSource, ds, []string{"a", "b"}, 5)
	require.NoError(t, err)
	assert.Len(t, idx.Pos, 2)
}
