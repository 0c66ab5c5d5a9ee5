package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/pkg/types"
)

const assetRules = `
fields:
  - field: 资产编码
    target_field: 资产编号
    primary: 是
  - field: 公司代码
    primary: true
  - field: 原值
    target_field: 资产原值
    type: 数值
    tolerance: 0.01
  - field: 累计折旧
    type: numeric
  - field: 开始使用日期
    type: 日期
    tolerance: 月
  - field: 净值
    type: numeric
    derivation: 资产原值 - 累计折旧
  - field: 资产分类
    target_field: 原21版资产分类
  - field: 线站电压等级
  - field: 备注
    override:
      kind: none
  - field: 是否共用
enumerations:
  线站电压等级:
    交流10kV: 22
`

func TestParseAssetRules(t *testing.T) {
	m, err := Parse([]byte(assetRules))
	require.NoError(t, err)

	assert.Equal(t, DefaultAbsMarker, m.AbsMarker)
	assert.Equal(t, []string{"资产编码", "公司代码"}, m.SourceKeyColumns())
	assert.Equal(t, []string{"资产编号", "公司代码"}, m.TargetKeyColumns())
	assert.Len(t, m.Compared(), 8)

	orig, ok := m.Field("原值")
	require.True(t, ok)
	assert.Equal(t, Numeric, orig.Type)
	assert.True(t, orig.Tolerance.HasDelta)
	assert.True(t, orig.Tolerance.Delta.Equal(decimal.RequireFromString("0.01")))
	assert.False(t, orig.Absolute)

	dep, _ := m.Field("累计折旧")
	assert.True(t, dep.Absolute)
	assert.Equal(t, "累计折旧", dep.TargetField)

	start, _ := m.Field("开始使用日期")
	assert.Equal(t, PrecisionMonth, start.Tolerance.Precision)

	net, _ := m.Field("净值")
	require.True(t, net.Derived())
	require.NoError(t, net.DerivationErr)
	assert.Equal(t, []string{"资产原值", "累计折旧"}, net.Program.Columns)
	assert.Empty(t, net.TargetField)

	cat, _ := m.Field("资产分类")
	assert.Equal(t, OverrideCategoryPrefix, cat.OverrideKind())

	volt, _ := m.Field("线站电压等级")
	require.Equal(t, OverrideEnumeration, volt.OverrideKind())
	assert.Equal(t, "22", volt.Override.(Enumeration).Translate("交流10kV"))
	assert.Equal(t, "交流35kV", volt.Override.(Enumeration).Translate("交流35kV"))

	note, _ := m.Field("备注")
	assert.Nil(t, note.Override)
	assert.Nil(t, note.Booleans, "kind none turns every synonym off")

	shared, _ := m.Field("是否共用")
	assert.Nil(t, shared.Override)
	require.NotNil(t, shared.Booleans)
	assert.True(t, shared.Booleans.Match("是", "Y"))
	assert.NotNil(t, cat.Booleans, "category prefix still accepts 是/否")
	assert.Nil(t, volt.Booleans, "enumeration decides on its own")
	assert.NotNil(t, orig.Booleans, "numeric fields accept 是/否 too")
	code, _ := m.Field("资产编码")
	assert.Nil(t, code.Booleans)

	assert.Equal(t, "资产编码", m.TargetMapping()["资产编号"])
	_, derivedMapped := m.TargetMapping()[""]
	assert.False(t, derivedMapped)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no fields", "fields: []", "no fields"},
		{"no primary", "fields:\n  - field: a\n", "no primary key"},
		{"duplicate", "fields:\n  - field: a\n    primary: true\n  - field: a\n", "more than once"},
		{"bad type", "fields:\n  - field: a\n    type: blob\n    primary: true\n", "unknown data type"},
		{"precision on numeric", "fields:\n  - field: a\n    primary: true\n  - field: b\n    type: numeric\n    tolerance: 月\n", "date precision"},
		{"delta on date", "fields:\n  - field: a\n    primary: true\n  - field: b\n    type: date\n    tolerance: 3\n", "numeric tolerance"},
		{"bad tolerance", "fields:\n  - field: a\n    primary: true\n  - field: b\n    type: numeric\n    tolerance: lots\n", "neither a number"},
		{"derived key", "fields:\n  - field: a\n    primary: true\n    derivation: b + c\n", "cannot be derived"},
		{"missing enum table", "fields:\n  - field: a\n    primary: true\n  - field: b\n    override:\n      kind: enumeration\n", "enumerations table"},
		{"unknown override", "fields:\n  - field: a\n    primary: true\n  - field: b\n    override:\n      kind: fuzzy\n", "unknown override kind"},
		{"bad primary", "fields:\n  - field: a\n    primary: maybe\n", "primary must be"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			var cfgErr *recon.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "want ConfigurationError, got %T", err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBadDerivationIsKeptOnRule(t *testing.T) {
	m, err := Parse([]byte("fields:\n  - field: a\n    primary: true\n  - field: b\n    derivation: x - y\n"))
	require.NoError(t, err)
	b, _ := m.Field("b")
	require.Error(t, b.DerivationErr, "text derivations cannot subtract")
	assert.Nil(t, b.Program)
}

func TestExplicitOverrides(t *testing.T) {
	doc := `
abs_marker: depr
conventions: false
boolean_synonyms: false
fields:
  - field: id
    primary: true
  - field: path
    override:
      kind: hierarchical_path
      source_separator: /
      target_separator: ">"
  - field: system
    override:
      kind: code_combination
      delimiter: ","
  - field: method
    override:
      kind: method_synonym
      pairs: [[SL, straight-line]]
  - field: 资产分类
  - field: flag
combinations:
  system:
    "01": ["A,B", "C"]
    "02": ["D"]
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "depr", m.AbsMarker)

	path, _ := m.Field("path")
	assert.Equal(t, HierarchicalPath{SourceSeparator: "/", TargetSeparator: ">"}, path.Override)

	sys, _ := m.Field("system")
	combo := sys.Override.(CodeCombination)
	assert.Equal(t, [][2]string{{"01", "A"}, {"01", "B"}, {"01", "C"}, {"02", "D"}}, combo.Pairs())
	assert.Equal(t, []string{"A", "B"}, combo.Split(" A,, B ,"))

	method, _ := m.Field("method")
	syn := method.Override.(Synonyms)
	assert.True(t, syn.Match("SL", "straight-line"))
	assert.True(t, syn.Match("straight-line", "SL"))
	assert.False(t, syn.Match("SL", "SL"))

	cat, _ := m.Field("资产分类")
	assert.Nil(t, cat.Override, "conventions disabled")
	flag, _ := m.Field("flag")
	assert.Nil(t, flag.Override)
	assert.Nil(t, flag.Booleans, "boolean synonyms disabled")
	assert.Nil(t, method.Booleans, "method has its own synonyms and booleans are off")
}

func TestBooleansAlongsideMethodSynonyms(t *testing.T) {
	m, err := Parse([]byte("fields:\n  - field: id\n    primary: true\n  - field: 折旧方法\n"))
	require.NoError(t, err)
	method, _ := m.Field("折旧方法")
	assert.Equal(t, OverrideMethodSynonym, method.OverrideKind())
	require.NotNil(t, method.Booleans)
	assert.True(t, method.Booleans.Match("Y", "是"))
}

func TestMappings(t *testing.T) {
	dir := t.TempDir()
	csv := "资产分类映射表\n同源目录完整名称,同源目录编码\n房屋及建筑物,3101\n机器设备,4102\n房屋及建筑物,9999\n构筑物,3101\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "category.csv"), []byte(csv), 0o644))
	doc := `
fields:
  - field: 资产编码
    primary: true
  - field: 资产分类
    target_field: 原21版资产分类
mappings:
  资产分类:
    values:
      土地: "11"
    file: category.csv
    skip_rows: 1
    from: 同源目录完整名称
    to: 同源目录编码
`
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	cat, _ := m.Field("资产分类")
	require.NotNil(t, cat.Mapping)
	assert.Equal(t, OverrideCategoryPrefix, cat.OverrideKind())
	assert.Equal(t, "3101", cat.SourceValue("房屋及建筑物"), "first entry wins")
	assert.Equal(t, "11", cat.SourceValue("土地"))
	assert.Equal(t, "未知", cat.SourceValue("未知"))
	name, ok := cat.Mapping.Name("3101")
	assert.True(t, ok)
	assert.Equal(t, "房屋及建筑物", name)
	assert.Equal(t, 4, cat.Mapping.Len())
}

func TestMappingErrors(t *testing.T) {
	base := "fields:\n  - field: id\n    primary: true\n  - field: cat\n"
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", base + "mappings:\n  nope:\n    values: {a: b}\n", "unknown field nope"},
		{"empty", base + "mappings:\n  cat: {}\n", "no usable entries"},
		{"file without columns", base + "mappings:\n  cat:\n    file: x.csv\n", "from and to"},
		{"missing file", base + "mappings:\n  cat:\n    file: nowhere.csv\n    from: a\n    to: b\n", "nowhere.csv"},
		{"primary key", base + "mappings:\n  id:\n    values: {a: b}\n", "cannot be mapped"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			var cfgErr *recon.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "want ConfigurationError, got %T", err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestCheckColumns(t *testing.T) {
	m, err := Parse([]byte(assetRules))
	require.NoError(t, err)

	src := types.NewDataset("src", []string{"资产编码", "公司代码", "原值", "累计折旧", "开始使用日期", "净值", "资产分类", "线站电压等级", "备注", "是否共用"})
	tgt := types.NewDataset("tgt", []string{"资产编号", "公司代码", "资产原值", "累计折旧", "开始使用日期", "原21版资产分类", "线站电压等级", "备注", "是否共用"})
	require.NoError(t, m.CheckColumns(src, tgt))

	short := types.NewDataset("tgt", []string{"资产编号"})
	err = m.CheckColumns(src, short)
	var cfgErr *recon.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Empty(t, cfgErr.MissingSource)
	assert.Contains(t, cfgErr.MissingTarget, "公司代码")
	assert.NotContains(t, cfgErr.MissingTarget, "净值")
	assert.Contains(t, err.Error(), "target is missing columns")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(assetRules), 0o644))
	m, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Fields(), 10)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
