// Package models contains the data models for the Terminal API
package models

import (
	"encoding/json"
	"time"
)

// AlertsTableName is the name of the table for alerts
var AlertsTableName = "alerts"

// Alert operator values
const (
	OperatorLT  = "<"
	OperatorLTE = "<="
	OperatorGT  = ">"
	OperatorGTE = ">="
	OperatorEQ  = "=="
	OperatorNEQ = "!="
)

// Alert rhs_type values
const (
	RhsTypeConstant  = "constant"
	RhsTypeTrendLine = "trend_line"
)

// TrendlinePoint is a single (timestamp, price) anchor of a trend line
type TrendlinePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// RhsAttr holds the right-hand side payload of an alert condition.
// Exactly one of the members is populated depending on RhsType.
type RhsAttr struct {
	Constant  *float64         `json:"constant,omitempty"`
	TrendLine []TrendlinePoint `json:"trend_line,omitempty"`
}

// AlertModel represents a user defined price alert
type AlertModel struct {
	ID                 string          `gorm:"primaryKey" json:"id"`
	UserID             string          `gorm:"index" json:"user_id"`
	Symbol             string          `gorm:"index" json:"symbol"`
	IsActive           bool            `json:"is_active"`
	Notes              string          `json:"notes"`
	Type               string          `json:"type"`     // "simple"
	LhsType            string          `json:"lhs_type"` // "last_price"
	Operator           string          `json:"operator"`
	RhsType            string          `json:"rhs_type"`
	RhsAttr            json.RawMessage `gorm:"type:jsonb" json:"rhs_attr"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          *time.Time      `json:"updated_at"`
	DeletedAt          *time.Time      `gorm:"index" json:"deleted_at"`
	LastTriggeredAt    *time.Time      `json:"last_triggered_at"`
	LastTriggeredPrice *float64        `json:"last_triggered_price"`
}

// TableName specifies the table name for AlertModel
func (AlertModel) TableName() string {
	return AlertsTableName
}

// IsLive reports whether the alert should be evaluated against ticks
func (a *AlertModel) IsLive() bool {
	return a.IsActive && a.DeletedAt == nil
}

// ConstantValue returns the constant RHS value, or false when the alert
// is not a constant alert or the payload is malformed.
func (a *AlertModel) ConstantValue() (float64, bool) {
	if a.RhsType != RhsTypeConstant {
		return 0, false
	}
	var attr RhsAttr
	if err := json.Unmarshal(a.RhsAttr, &attr); err != nil || attr.Constant == nil {
		return 0, false
	}
	return *attr.Constant, true
}

// TrendlinePoints returns the trend line anchors, or false when the alert
// is not a trend line alert or the payload is malformed.
func (a *AlertModel) TrendlinePoints() ([]TrendlinePoint, bool) {
	if a.RhsType != RhsTypeTrendLine {
		return nil, false
	}
	var attr RhsAttr
	if err := json.Unmarshal(a.RhsAttr, &attr); err != nil || attr.TrendLine == nil {
		return nil, false
	}
	return attr.TrendLine, true
}

// ChangeUpdate is a single tick from the quote stream
type ChangeUpdate struct {
	Symbol string    `json:"symbol"`
	Ltp    float64   `json:"ltp"`
	Ltq    float64   `json:"ltq"`
	Ltt    time.Time `json:"ltt"`
}
