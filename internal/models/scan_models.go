// Package models contains the data models for the Terminal API
package models

import "fmt"

// Condition types
const (
	ConditionStatic   = "static"
	ConditionComputed = "computed"
)

// Evaluation types
const (
	EvaluationBoolean = "boolean"
	EvaluationRank    = "rank"
)

// Logic operators for combining conditions
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// Evaluation periods
const (
	PeriodNow        = "now"
	PeriodXBarAgo    = "x_bar_ago"
	PeriodWithinLast = "within_last"
	PeriodInRow      = "in_row"
)

// SortColumn defines a column to sort scan results by. Column references
// a column id from the request, not an output name.
type SortColumn struct {
	Column    string `json:"column"`
	Direction string `json:"direction"` // "asc" | "desc"
}

// Condition represents a technical analysis condition
type Condition struct {
	Expression       string `json:"expression"`
	ConditionType    string `json:"condition_type"`    // static | computed
	EvaluationType   string `json:"evaluation_type"`   // boolean | rank
	EvaluationPeriod string `json:"evaluation_period"` // now | x_bar_ago | within_last | in_row
	Value            *int   `json:"value"`
	RankMin          *int   `json:"rank_min"`
	RankMax          *int   `json:"rank_max"`
}

// Normalize fills defaults and validates the condition
func (c *Condition) Normalize() error {
	if c.ConditionType == "" {
		c.ConditionType = ConditionComputed
	}
	if c.EvaluationType == "" {
		c.EvaluationType = EvaluationBoolean
	}
	if c.ConditionType == ConditionComputed && c.EvaluationPeriod == "" {
		c.EvaluationPeriod = PeriodNow
	}
	if c.ConditionType == ConditionStatic && c.EvaluationPeriod != "" {
		return fmt.Errorf("evaluation_period not allowed for static conditions")
	}
	if c.EvaluationType == EvaluationRank {
		if c.EvaluationPeriod != PeriodNow {
			return fmt.Errorf("rank evaluation only supports 'now' evaluation_period")
		}
		if c.Value != nil {
			return fmt.Errorf("value not allowed for rank evaluation")
		}
		if c.RankMin == nil {
			v := 1
			c.RankMin = &v
		}
		if c.RankMax == nil {
			v := 99
			c.RankMax = &v
		}
		if *c.RankMin < 1 || *c.RankMin > 100 {
			return fmt.Errorf("rank_min must be between 1 and 100")
		}
		if *c.RankMax < 1 || *c.RankMax > 100 {
			return fmt.Errorf("rank_max must be between 1 and 100")
		}
		if *c.RankMax < *c.RankMin {
			return fmt.Errorf("rank_max must be >= rank_min")
		}
		return nil
	}
	c.RankMin = nil
	c.RankMax = nil
	if c.ConditionType == ConditionComputed {
		switch c.EvaluationPeriod {
		case PeriodNow:
			if c.Value != nil {
				return fmt.Errorf("value not allowed for 'now'")
			}
		case PeriodXBarAgo, PeriodWithinLast, PeriodInRow:
			if c.Value == nil || *c.Value <= 0 {
				return fmt.Errorf("value must be positive integer for evaluation_period %q", c.EvaluationPeriod)
			}
		default:
			return fmt.Errorf("unknown evaluation_period %q", c.EvaluationPeriod)
		}
	} else if c.Value != nil {
		return fmt.Errorf("value not allowed for static conditions")
	}
	return nil
}

// ColumnDef defines an output column for scan results
type ColumnDef struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Type         string      `json:"type"` // static | computed | condition
	PropertyName string      `json:"property_name"`
	Expression   string      `json:"expression"`
	Conditions   []Condition `json:"conditions"`
	Logic        string      `json:"logic"` // and | or
}

// Normalize fills defaults and validates the column definition
func (c *ColumnDef) Normalize() error {
	if c.Logic == "" {
		c.Logic = "and"
	}
	switch c.Type {
	case "static":
		if c.PropertyName == "" {
			return fmt.Errorf("property_name is required for static columns")
		}
	case "computed":
		if c.Expression == "" {
			return fmt.Errorf("expression is required for computed columns")
		}
	case "condition":
		if len(c.Conditions) == 0 {
			return fmt.Errorf("conditions list is required for condition columns")
		}
		for i := range c.Conditions {
			if err := c.Conditions[i].Normalize(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown column type %q", c.Type)
	}
	return nil
}

// ScanRequest is a complete scan request specification
type ScanRequest struct {
	Market            string       `json:"market"` // india | us
	Conditions        []Condition  `json:"conditions"`
	PreConditions     []Condition  `json:"pre_conditions"`
	Columns           []ColumnDef  `json:"columns"`
	Logic             string       `json:"logic"`
	PreConditionLogic string       `json:"pre_condition_logic"`
	SortColumns       []SortColumn `json:"sort_columns"`
}

// Normalize fills defaults and validates the request
func (r *ScanRequest) Normalize() error {
	if r.Market == "" {
		r.Market = "india"
	}
	if r.Market != "india" && r.Market != "us" {
		return fmt.Errorf("unknown market %q", r.Market)
	}
	if r.Logic == "" {
		r.Logic = "and"
	}
	if r.PreConditionLogic == "" {
		r.PreConditionLogic = "and"
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].Normalize(); err != nil {
			return err
		}
	}
	for i := range r.PreConditions {
		if err := r.PreConditions[i].Normalize(); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(r.Columns))
	for i := range r.Columns {
		if err := r.Columns[i].Normalize(); err != nil {
			return err
		}
		if seen[r.Columns[i].ID] {
			return fmt.Errorf("column ids must be unique: %q", r.Columns[i].ID)
		}
		seen[r.Columns[i].ID] = true
	}
	return nil
}

// ScanResponse is the response model for scan results
type ScanResponse struct {
	Count   int             `json:"count"`
	Columns []string        `json:"columns"`
	Data    [][]interface{} `json:"data"`
	Success bool            `json:"success"`
}
