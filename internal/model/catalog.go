// Package model defines the catalog entities shared across the CLI.
package model

import "time"

// Category levels in the two-level board/subcategory hierarchy.
const (
	LevelBoard       = 1
	LevelSubcategory = 2
)

// Category is one node in the two-level indicator hierarchy. Names are
// unique across both levels; only level-2 categories carry a parent.
type Category struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Level        int    `json:"level"`
	ParentID     *int64 `json:"parent_id,omitempty"`
	DisplayOrder int    `json:"display_order"`
}

// Indicator is one tracked economic time series. Code is the FRED series
// identifier and is the immutable natural key.
type Indicator struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Code               string     `json:"code"`
	EnglishName        string     `json:"english_name,omitempty"`
	Description        string     `json:"description,omitempty"`
	Frequency          string     `json:"frequency,omitempty"`
	Units              string     `json:"units,omitempty"`
	SeasonalAdjustment string     `json:"seasonal_adjustment,omitempty"`
	LastUpdated        *time.Time `json:"last_updated,omitempty"`
	CategoryID         int64      `json:"category_id"`
	ReferenceURL       string     `json:"reference_url,omitempty"`
	DisplayOrder       int        `json:"display_order"`
}

// Observation is a single (date, value) sample for an indicator. Dates
// are unique per indicator; values are never mutated in place.
type Observation struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}
