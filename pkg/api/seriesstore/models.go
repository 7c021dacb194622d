package seriesstore

import "time"

// Series is one analyzed (suite, scale, case) trend in the database.
// Points are stored JSON-encoded since gorm has no native float slice type.
type Series struct {
	ID             uint     `gorm:"primaryKey" json:"-"`
	Suite          string   `gorm:"index:idx_series_key,unique" json:"suite"`
	Scale          string   `gorm:"index:idx_series_key,unique" json:"scale"`
	TestCase       string   `gorm:"index:idx_series_key,unique;column:test_case" json:"case"`
	PointsJSON     string   `gorm:"column:points_json" json:"-"`
	Latest         float64  `json:"latest"`
	BaselineMedian *float64 `json:"baselineMedian"`
	ChangePct      *float64 `json:"changePct"`
	Status         string   `json:"status"`
	PValue         *float64 `json:"pValue,omitempty"`
	Significant    *bool    `json:"significant,omitempty"`
}

// Summary is the report-level summary row. Only one row is kept.
type Summary struct {
	ID                     uint      `gorm:"primaryKey" json:"-"`
	TotalSeries            int       `json:"totalSeries"`
	Regressions            int       `json:"regressions"`
	SignificantRegressions int       `json:"significantRegressions"`
	InvalidRows            int       `json:"invalidRows"`
	RefreshedAt            time.Time `json:"refreshedAt"`
}
