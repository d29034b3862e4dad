package screener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSQLDefaults(t *testing.T) {
	sql, err := BuildSQL(Query{Table: "symbols"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM symbols;", sql)
}

func TestBuildSQLColumnsAndSort(t *testing.T) {
	sql, err := BuildSQL(Query{
		Table:   "symbols",
		Columns: []string{"ticker", "day_close"},
		Sort: []SortField{
			{ColID: "day_close", Sort: "desc"},
			{ColID: "name", Sort: "ASC"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "ticker", "day_close" FROM symbols ORDER BY "day_close" DESC NULLS LAST, "name" ASC NULLS LAST;`, sql)
}

func TestBuildSQLFilterOperators(t *testing.T) {
	cases := []struct {
		filter Filter
		want   string
	}{
		{Filter{Type: "contains", ColID: "name", Value: "oil"}, `"name" LIKE '%' || 'oil' || '%'`},
		{Filter{Type: "notContains", ColID: "name", Value: "oil"}, `"name" NOT LIKE '%' || 'oil' || '%'`},
		{Filter{Type: "equals", ColID: "sector", Value: "Energy"}, `"sector" = 'Energy'`},
		{Filter{Type: "notEqual", ColID: "sector", Value: "Energy"}, `"sector" != 'Energy'`},
		{Filter{Type: "startsWith", ColID: "ticker", Value: "NSE:"}, `"ticker" LIKE 'NSE:' || '%'`},
		{Filter{Type: "endsWith", ColID: "ticker", Value: "BANK"}, `"ticker" LIKE '%' || 'BANK'`},
		{Filter{Type: "blank", ColID: "industry"}, `("industry" IS NULL OR "industry" = '')`},
		{Filter{Type: "notBlank", ColID: "industry"}, `("industry" IS NOT NULL AND "industry" != '')`},
		{Filter{Type: "greaterThan", ColID: "mcap", Value: 1000.0}, `"mcap" > 1000`},
		{Filter{Type: "greaterThanOrEqual", ColID: "mcap", Value: 1000.0}, `"mcap" >= 1000`},
		{Filter{Type: "lessThan", ColID: "mcap", Value: 1000.0}, `"mcap" < 1000`},
		{Filter{Type: "lessThanOrEqual", ColID: "mcap", Value: 1000.0}, `"mcap" <= 1000`},
		{Filter{Type: "true", ColID: "is_fno"}, `"is_fno" = TRUE`},
		{Filter{Type: "false", ColID: "is_fno"}, `"is_fno" = FALSE`},
	}
	for _, tc := range cases {
		clause, err := filterToSQL(tc.filter)
		require.NoError(t, err, tc.filter.Type)
		assert.Equal(t, tc.want, clause, tc.filter.Type)
	}
}

func TestBuildSQLEscapesValues(t *testing.T) {
	assert.Equal(t, "'O''Brien'", escapeValue("O'Brien"))
	assert.Equal(t, "NULL", escapeValue(nil))
	assert.Equal(t, "TRUE", escapeValue(true))
	assert.Equal(t, "FALSE", escapeValue(false))
	assert.Equal(t, "42", escapeValue(42.0))
}

func TestBuildSQLFilterMerge(t *testing.T) {
	filters := []Filter{
		{Type: "equals", ColID: "sector", Value: "Energy"},
		{Type: "greaterThan", ColID: "mcap", Value: 1e10},
	}

	sql, err := BuildSQL(Query{Table: "symbols", Filters: filters, FilterMerge: FilterMergeOr})
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE ("sector" = 'Energy' OR "mcap" > 1e+10)`)

	sql, err = BuildSQL(Query{Table: "symbols", Filters: filters, FilterMerge: FilterMergeAnd})
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE ("sector" = 'Energy' AND "mcap" > 1e+10)`)

	// A single filter needs no grouping parentheses
	sql, err = BuildSQL(Query{Table: "symbols", Filters: filters[:1], FilterMerge: FilterMergeAnd})
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE "sector" = 'Energy'`)
}

func TestBuildSQLJoinFilter(t *testing.T) {
	clause, err := filterToSQL(Filter{
		FilterType: "join",
		Type:       "OR",
		Conditions: []Filter{
			{Type: "equals", ColID: "sector", Value: "Energy"},
			{Type: "equals", ColID: "sector", Value: "Tech"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `("sector" = 'Energy' OR "sector" = 'Tech')`, clause)
}

func TestBuildSQLUniverse(t *testing.T) {
	universe := []string{"NSE:TCS", "NSE:INFY"}
	sql, err := BuildSQL(Query{
		Table:    "symbols",
		Filters:  []Filter{{Type: "greaterThan", ColID: "mcap", Value: 1000.0}},
		Universe: &universe,
	})
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE ticker IN ('NSE:TCS', 'NSE:INFY') AND "mcap" > 1000`)

	// Empty universe matches nothing, regardless of filters
	empty := []string{}
	sql, err = BuildSQL(Query{Table: "symbols", Filters: []Filter{{Type: "true", ColID: "is_fno"}}, Universe: &empty})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM symbols WHERE 1=2;", sql)
}

func TestBuildSQLLimitOffset(t *testing.T) {
	limit, offset := 50, 100
	sql, err := BuildSQL(Query{Table: "symbols", Limit: &limit, Offset: &offset})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM symbols OFFSET 100 LIMIT 50;", sql)
}

func TestBuildSQLRejectsUnknownOperator(t *testing.T) {
	_, err := BuildSQL(Query{Table: "symbols", Filters: []Filter{{Type: "regex", ColID: "name", Value: ".*"}}})
	assert.Error(t, err)
}
