package screener

import (
	"fmt"
	"strings"
)

// Filter merge operators
const (
	FilterMergeAnd = "AND"
	FilterMergeOr  = "OR"
)

// Query describes one SELECT over the symbol feature table
type Query struct {
	Table       string
	Columns     []string
	Filters     []Filter
	FilterMerge string
	Sort        []SortField
	Limit       *int
	Offset      *int
	Universe    *[]string
}

// BuildSQL compiles a Query into a SQL string. The filter grammar is the
// fixed operator set of filterToSQL; anything else is rejected so arbitrary
// SQL can never ride in through a filter payload.
func BuildSQL(q Query) (string, error) {
	where, err := whereSQL(q.Filters, q.FilterMerge, q.Universe)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT%s FROM %s%s%s%s;",
		selectSQL(q.Columns), q.Table, where, orderBySQL(q.Sort), limitOffsetSQL(q.Limit, q.Offset)), nil
}

func selectSQL(columns []string) string {
	if len(columns) == 0 {
		return " *"
	}
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = fmt.Sprintf("%q", col)
	}
	return " " + strings.Join(quoted, ", ")
}

// whereSQL combines the universe restriction and the filter set. An empty
// non-nil universe matches nothing; universe and filters always join on AND.
func whereSQL(filters []Filter, merge string, universe *[]string) (string, error) {
	var conditions []string

	if universe != nil {
		if len(*universe) == 0 {
			return " WHERE 1=2", nil
		}
		escaped := make([]string, len(*universe))
		for i, ticker := range *universe {
			escaped[i] = escapeValue(ticker)
		}
		conditions = append(conditions, fmt.Sprintf("ticker IN (%s)", strings.Join(escaped, ", ")))
	}

	if merge != FilterMergeAnd && merge != FilterMergeOr {
		merge = FilterMergeAnd
	}
	var clauses []string
	for _, f := range filters {
		clause, err := filterToSQL(f)
		if err != nil {
			return "", err
		}
		if clause != "" {
			clauses = append(clauses, clause)
		}
	}
	switch {
	case len(clauses) == 1:
		conditions = append(conditions, clauses[0])
	case len(clauses) > 1:
		conditions = append(conditions, "("+strings.Join(clauses, " "+merge+" ")+")")
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), nil
}

func filterToSQL(f Filter) (string, error) {
	if f.Type == "" {
		return "", nil
	}
	if f.FilterType == "join" {
		joinType := f.Type
		if joinType != FilterMergeAnd && joinType != FilterMergeOr {
			return "", fmt.Errorf("unsupported join type: %s", joinType)
		}
		var parts []string
		for _, child := range f.Conditions {
			part, err := filterToSQL(child)
			if err != nil {
				return "", err
			}
			if part != "" {
				parts = append(parts, part)
			}
		}
		return "(" + strings.Join(parts, " "+joinType+" ") + ")", nil
	}

	col := fmt.Sprintf("%q", f.ColID)
	val := escapeValue(f.Value)

	switch f.Type {
	case "contains":
		return fmt.Sprintf("%s LIKE '%%' || %s || '%%'", col, val), nil
	case "notContains":
		return fmt.Sprintf("%s NOT LIKE '%%' || %s || '%%'", col, val), nil
	case "equals":
		return fmt.Sprintf("%s = %s", col, val), nil
	case "notEqual":
		return fmt.Sprintf("%s != %s", col, val), nil
	case "startsWith":
		return fmt.Sprintf("%s LIKE %s || '%%'", col, val), nil
	case "endsWith":
		return fmt.Sprintf("%s LIKE '%%' || %s", col, val), nil
	case "blank":
		return fmt.Sprintf("(%s IS NULL OR %s = '')", col, col), nil
	case "notBlank":
		return fmt.Sprintf("(%s IS NOT NULL AND %s != '')", col, col), nil
	case "greaterThan":
		return fmt.Sprintf("%s > %s", col, val), nil
	case "greaterThanOrEqual":
		return fmt.Sprintf("%s >= %s", col, val), nil
	case "lessThan":
		return fmt.Sprintf("%s < %s", col, val), nil
	case "lessThanOrEqual":
		return fmt.Sprintf("%s <= %s", col, val), nil
	case "true":
		return fmt.Sprintf("%s = TRUE", col), nil
	case "false":
		return fmt.Sprintf("%s = FALSE", col), nil
	}
	return "", fmt.Errorf("unsupported filter type: %s", f.Type)
}

func orderBySQL(sortFields []SortField) string {
	var clauses []string
	for _, sf := range sortFields {
		if sf.ColID == "" {
			continue
		}
		direction := strings.ToUpper(sf.Sort)
		if direction != "ASC" && direction != "DESC" {
			direction = "ASC"
		}
		// Postgres places NULLs first on DESC by default; null-valued rows
		// must always sort after real values regardless of direction.
		clauses = append(clauses, fmt.Sprintf("%q %s NULLS LAST", sf.ColID, direction))
	}
	if len(clauses) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(clauses, ", ")
}

func limitOffsetSQL(limit, offset *int) string {
	var parts []string
	if offset != nil {
		parts = append(parts, fmt.Sprintf("OFFSET %d", *offset))
	}
	if limit != nil {
		parts = append(parts, fmt.Sprintf("LIMIT %d", *limit))
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

// escapeValue renders a filter value as a SQL literal. Strings escape single
// quotes by doubling; nil becomes NULL.
func escapeValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", v)
	}
}
