// Package repository contains the repository layer for the Terminal API
package repository

import (
	"fmt"
	"time"

	"github.com/stockterm/terminalapi/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SymbolRepository wraps the precomputed per-symbol feature table. The
// screener and the verbatim SQL endpoint query it with SQL strings built
// elsewhere; the scanner reads it wholesale as a metadata table.
type SymbolRepository struct {
	db *gorm.DB
}

// NewSymbolRepository creates a new SymbolRepository
func NewSymbolRepository(db *gorm.DB) *SymbolRepository {
	return &SymbolRepository{db: db}
}

// UpsertSymbols writes a refreshed batch of feature rows
func (r *SymbolRepository) UpsertSymbols(symbols []models.SymbolModel) (int64, error) {
	if len(symbols) == 0 {
		return 0, nil
	}
	now := time.Now()
	for i := range symbols {
		symbols[i].UpdatedAt = now
	}
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		UpdateAll: true,
	}).CreateInBatches(symbols, 500)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to upsert symbols: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SymbolCount returns the number of rows in the feature table
func (r *SymbolRepository) SymbolCount() (int64, error) {
	var count int64
	if err := r.db.Model(&models.SymbolModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// QueryRecords executes the given SQL verbatim and returns the result as a
// list of column-keyed records.
func (r *SymbolRepository) QueryRecords(query string) ([]map[string]interface{}, error) {
	rows, err := r.db.Raw(query).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			record[col] = normalizeSQLValue(values[i])
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// QueryValues executes the given SQL and returns column names plus row-major
// values, the shape the screener full response uses.
func (r *SymbolRepository) QueryValues(query string) ([]string, [][]interface{}, error) {
	rows, err := r.db.Raw(query).Rows()
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	data := make([][]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make([]interface{}, len(cols))
		for i := range values {
			row[i] = normalizeSQLValue(values[i])
		}
		data = append(data, row)
	}
	return cols, data, rows.Err()
}

// FetchAll returns every feature row, used by the scanner metadata provider
func (r *SymbolRepository) FetchAll(market string) ([]models.SymbolModel, error) {
	var symbols []models.SymbolModel
	q := r.db
	if market != "" {
		q = q.Where("market = ?", market)
	}
	if err := q.Find(&symbols).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch symbols: %w", err)
	}
	return symbols, nil
}

// normalizeSQLValue converts driver types to JSON friendly ones
func normalizeSQLValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return v
	}
}
