// Package models contains the data models for the Terminal API
package models

import "time"

// SymbolsTableName is the name of the feature table for screener symbols
var SymbolsTableName = "symbols"

// SymbolModel is one row of the precomputed per-symbol feature table.
// The table is rebuilt by the offline scanner build and refreshed into
// Postgres periodically; the screener and scanner query it with raw SQL.
type SymbolModel struct {
	Ticker                  string     `gorm:"primaryKey;column:ticker" json:"ticker"`
	Name                    string     `gorm:"column:name" json:"name"`
	Type                    string     `gorm:"column:type" json:"type"`
	Isin                    string     `gorm:"column:isin" json:"isin"`
	Description             string     `gorm:"column:description" json:"description"`
	Logo                    string     `gorm:"column:logo" json:"logo"`
	Exchange                string     `gorm:"column:exchange" json:"exchange"`
	ExchangeLogo            string     `gorm:"column:exchange_logo" json:"exchange_logo"`
	Currency                string     `gorm:"column:currency" json:"currency"`
	FundamentalCurrency     string     `gorm:"column:fundamental_currency" json:"fundamental_currency"`
	Market                  string     `gorm:"column:market" json:"market"`
	Sector                  *string    `gorm:"column:sector" json:"sector"`
	Industry                *string    `gorm:"column:industry" json:"industry"`
	Indexes                 *string    `gorm:"column:indexes" json:"indexes"`
	Pricescale              int        `gorm:"column:pricescale" json:"pricescale"`
	Minmov                  int        `gorm:"column:minmov" json:"minmov"`
	RecommendationMark      *float64   `gorm:"column:recommendation_mark" json:"recommendation_mark"`
	Mcap                    *float64   `gorm:"column:mcap" json:"mcap"`
	PriceEarningsTTM        *float64   `gorm:"column:price_earnings_ttm" json:"price_earnings_ttm"`
	PriceEarningsGrowthTTM  *float64   `gorm:"column:price_earnings_growth_ttm" json:"price_earnings_growth_ttm"`
	PriceTarget1Y           *float64   `gorm:"column:price_target_1y" json:"price_target_1y"`
	SharesFloat             *float64   `gorm:"column:shares_float" json:"shares_float"`
	SharesFloatPct          *float64   `gorm:"column:float_shares_percent_current" json:"float_shares_percent_current"`
	AllTimeHigh             *float64   `gorm:"column:all_time_high" json:"all_time_high"`
	AllTimeLow              *float64   `gorm:"column:all_time_low" json:"all_time_low"`
	Beta1Year               *float64   `gorm:"column:beta_1_year" json:"beta_1_year"`
	Beta3Year               *float64   `gorm:"column:beta_3_year" json:"beta_3_year"`
	Beta5Year               *float64   `gorm:"column:beta_5_year" json:"beta_5_year"`
	EarningsReleaseDate     *time.Time `gorm:"column:earnings_release_date" json:"earnings_release_date"`
	EarningsReleaseNextDate *time.Time `gorm:"column:earnings_release_next_date" json:"earnings_release_next_date"`
	DayOpen                 *float64   `gorm:"column:day_open" json:"day_open"`
	DayHigh                 *float64   `gorm:"column:day_high" json:"day_high"`
	DayLow                  *float64   `gorm:"column:day_low" json:"day_low"`
	DayClose                *float64   `gorm:"column:day_close" json:"day_close"`
	UpdatedAt               time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for SymbolModel
func (SymbolModel) TableName() string {
	return SymbolsTableName
}

// Properties returns the row as a property map keyed by column name, the
// shape the scanner's metadata environment consumes. Nullable columns map
// to nil when unset.
func (s *SymbolModel) Properties() map[string]interface{} {
	return map[string]interface{}{
		"ticker":                       s.Ticker,
		"name":                         s.Name,
		"type":                         s.Type,
		"isin":                         s.Isin,
		"description":                  s.Description,
		"logo":                         s.Logo,
		"exchange":                     s.Exchange,
		"exchange_logo":                s.ExchangeLogo,
		"currency":                     s.Currency,
		"fundamental_currency":         s.FundamentalCurrency,
		"market":                       s.Market,
		"sector":                       derefString(s.Sector),
		"industry":                     derefString(s.Industry),
		"indexes":                      derefString(s.Indexes),
		"pricescale":                   s.Pricescale,
		"minmov":                       s.Minmov,
		"recommendation_mark":          derefFloat(s.RecommendationMark),
		"mcap":                         derefFloat(s.Mcap),
		"price_earnings_ttm":           derefFloat(s.PriceEarningsTTM),
		"price_earnings_growth_ttm":    derefFloat(s.PriceEarningsGrowthTTM),
		"price_target_1y":              derefFloat(s.PriceTarget1Y),
		"shares_float":                 derefFloat(s.SharesFloat),
		"float_shares_percent_current": derefFloat(s.SharesFloatPct),
		"all_time_high":                derefFloat(s.AllTimeHigh),
		"all_time_low":                 derefFloat(s.AllTimeLow),
		"beta_1_year":                  derefFloat(s.Beta1Year),
		"beta_3_year":                  derefFloat(s.Beta3Year),
		"beta_5_year":                  derefFloat(s.Beta5Year),
		"day_open":                     derefFloat(s.DayOpen),
		"day_high":                     derefFloat(s.DayHigh),
		"day_low":                      derefFloat(s.DayLow),
		"day_close":                    derefFloat(s.DayClose),
	}
}

func derefString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func derefFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
