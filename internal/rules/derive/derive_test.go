package derive

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	cols map[string][]any
	n    int
}

func (f fakeSource) Column(name string) []any { return f.cols[name] }
func (f fakeSource) Len() int                  { return f.n }

func (f fakeSource) HasColumn(name string) bool {
	_, ok := f.cols[name]
	return ok
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		cols    []string
		wantErr string
	}{
		{name: "concatenation", src: "省 + 市 + 县", cols: []string{"省", "市", "县"}},
		{name: "prefix slice", src: "资产编码[:8]", cols: []string{"资产编码"}},
		{name: "quoted ident", src: `"原值-残值" * 0.5`, cols: []string{"原值-残值"}},
		{name: "precedence", src: "a + b * (c - d) / 2", cols: []string{"a", "b", "c", "d"}},
		{name: "unary", src: "-a", cols: []string{"a"}},
		{name: "repeated column", src: "a + a", cols: []string{"a"}},
		{name: "empty", src: "  ", wantErr: "empty expression"},
		{name: "dangling operator", src: "a +", wantErr: "unexpected end of expression"},
		{name: "unclosed paren", src: "(a + b", wantErr: `expected ")"`},
		{name: "bad slice", src: "a[3:1]", wantErr: "slice start 3 is after end 1"},
		{name: "unterminated quote", src: "'abc", wantErr: "unterminated quote"},
		{name: "stray char", src: "a # b", wantErr: "unexpected character"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n, err := Parse(tc.src)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.cols, Columns(n))
		})
	}
}

func TestCompileRejectsArithmeticInText(t *testing.T) {
	_, err := Compile("a - b", Text, "")
	require.Error(t, err)

	_, err = Compile("a - b", Numeric, "")
	require.NoError(t, err)
}

func TestEvalText(t *testing.T) {
	src := fakeSource{n: 3, cols: map[string][]any{
		"省":  {"广东", nil, "湖南"},
		"市":  {"深圳", "广州", 12.0},
		"编码": {"0102030405", "01", ""},
	}}

	p, err := Compile("省 + 市", Text, "")
	require.NoError(t, err)
	out, err := p.Eval(src)
	require.NoError(t, err)
	assert.Equal(t, []any{"广东深圳", "广州", "湖南12"}, out)

	p, err = Compile("编码[:4]", Text, "")
	require.NoError(t, err)
	out, err = p.Eval(src)
	require.NoError(t, err)
	assert.Equal(t, []any{"0102", "01", ""}, out)

	p, err = Compile("编码[2:4] + '-' + 省[1:]", Text, "")
	require.NoError(t, err)
	out, err = p.Eval(src)
	require.NoError(t, err)
	assert.Equal(t, []any{"02-东", "-", "-南"}, out)
}

func TestEvalNumeric(t *testing.T) {
	src := fakeSource{n: 4, cols: map[string][]any{
		"原值":   {"100", "50.5", "abc", nil},
		"累计折旧": {"-30", "0.5", "10", "5"},
		"数量":   {"2", "0", "1", "1"},
	}}

	p, err := Compile("原值 - 累计折旧", Numeric, "折旧")
	require.NoError(t, err)
	out, err := p.Eval(src)
	require.NoError(t, err)
	assert.Equal(t, []any{"70", "50", "-10", "-5"}, out)

	p, err = Compile("原值 / 数量", Numeric, "折旧")
	require.NoError(t, err)
	out, err = p.Eval(src)
	require.NoError(t, err)
	assert.Equal(t, "50", out[0])
	assert.Nil(t, out[1], "division by zero yields an empty value")
	assert.Equal(t, "0", out[2])

	p, err = Compile("原值 / 数量", Numeric, "")
	require.NoError(t, err)
	out, err = p.Eval(fakeSource{n: 3, cols: map[string][]any{
		"原值": {"1", "2", "-2"},
		"数量": {"3", "3", "3"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []any{"0.3333333333333333", "0.6666666666666667", "-0.6666666666666667"}, out)
}

func TestEvalMissingColumn(t *testing.T) {
	p, err := Compile("a + b", Text, "")
	require.NoError(t, err)
	_, err = p.Eval(fakeSource{n: 1, cols: map[string][]any{"a": {"x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")
	assert.Equal(t, []string{"b"}, p.Missing(fakeSource{cols: map[string][]any{"a": nil}}))
}

func TestSQLRendering(t *testing.T) {
	ref := func(name string) (string, error) {
		switch name {
		case "a":
			return `t."c0"`, nil
		case "累计折旧":
			return `t."c1"`, nil
		}
		return "", errors.New("unknown column " + name)
	}

	p, err := Compile("a[:2] + 'x'", Text, "")
	require.NoError(t, err)
	sql, err := p.SQL(ref)
	require.NoError(t, err)
	assert.Equal(t, `(left(COALESCE(t."c0", ''), 2) || 'x')`, sql)

	p, err = Compile("a / 累计折旧", Numeric, "折旧")
	require.NoError(t, err)
	sql, err = p.SQL(ref)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql, ")::text"))
	assert.Contains(t, sql, "NULLIF(")
	assert.Contains(t, sql, "abs(")
	assert.Contains(t, sql, "round((")
	assert.Contains(t, sql, " + 0.0000000000000000) / NULLIF(")
	assert.Contains(t, sql, ", 0), 16)")

	p, err = Compile("a + b", Text, "")
	require.NoError(t, err)
	_, err = p.SQL(ref)
	require.Error(t, err)
}
