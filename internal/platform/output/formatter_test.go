package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"item_count"`
}

type twoTables struct{}

func (twoTables) Tables() []Data {
	return []Data{
		{Title: "Summary", Headers: []string{"Key", "Value"}, Rows: [][]string{{"ok", "true"}}},
		{Title: "Items", Headers: []string{"Action"}, Rows: [][]string{{"insert"}}},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"table": FormatTable, "JSON": FormatJSON, " yaml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)

	got, err := ParseFormat("")
	require.NoError(t, err)
	assert.Contains(t, []Format{FormatTable, FormatJSON}, got)
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatJSON).Format(&buf, sample{Name: "TSH", Count: 2}))
	assert.JSONEq(t, `{"name":"TSH","item_count":2}`, buf.String())
}

func TestYAMLFormatter_UsesJSONNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatYAML).Format(&buf, sample{Name: "TSH", Count: 2}))
	assert.Contains(t, buf.String(), "name: TSH")
	assert.Contains(t, buf.String(), "item_count: 2")
}

func TestTableFormatter_RendersData(t *testing.T) {
	var buf bytes.Buffer
	data := Data{
		Headers:      []string{"Parameter", "Ranges"},
		Rows:         [][]string{{"Hemoglobina", "3"}, {"TSH", "1"}},
		RightAligned: []int{1},
	}
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, data))

	out := buf.String()
	assert.Contains(t, strings.ToUpper(out), "PARAMETER")
	assert.Contains(t, out, "Hemoglobina")
	assert.Contains(t, out, "TSH")
}

func TestTableFormatter_Tabular(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, twoTables{}))

	out := buf.String()
	assert.Less(t, strings.Index(out, "Summary"), strings.Index(out, "Items"))
	assert.Contains(t, out, "insert")
}

func TestTableFormatter_FallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, sample{Name: "x"}))
	assert.JSONEq(t, `{"name":"x","item_count":0}`, buf.String())
}
