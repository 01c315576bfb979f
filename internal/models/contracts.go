package models

import (
	"encoding/json"

	"github.com/guregu/null/v6"
)

// VendorResponse is a single request/response exchange with the data platform.
// Success is false for any non-2xx answer; Body is kept raw for the normalizers.
type VendorResponse struct {
	Success bool
	Status  int
	Body    []byte
}

func (r VendorResponse) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

type Selection struct {
	Symbol    string `json:"symbol"`
	StartYear int    `json:"startYear,omitempty"`
	EndYear   int    `json:"endYear,omitempty"`
}

type HistoryQuery struct {
	Interval string
	Fields   []string
	Start    string
	End      string
	Count    int
}

type NewsItem struct {
	Date    string `json:"date"`
	Text    string `json:"text"`
	StoryID string `json:"storyId"`
}

// RatioRow is one label/value line of the fundamentals or ESG tables.
type RatioRow struct {
	Label string `json:"a"`
	Value any    `json:"b"`
}

// QuoteRow is one line of the streaming quote grid: two label/value pairs.
type QuoteRow struct {
	Label1 string `json:"a"`
	Value1 any    `json:"b"`
	Label2 string `json:"c"`
	Value2 any    `json:"d"`
}

type QuoteTable struct {
	Symbol string         `json:"symbol,omitempty"`
	State  string         `json:"state"`
	Rows   []QuoteRow     `json:"rows"`
	Fields map[string]any `json:"fields,omitempty"`
}

type PricePoint struct {
	Time  string  `json:"t"`
	Price float64 `json:"p"`
}

type Series struct {
	X    []string     `json:"x"`
	Y    []null.Float `json:"y"`
	Name string       `json:"name"`
}

type Margin struct {
	L int `json:"l"`
	R int `json:"r"`
	T int `json:"t"`
	B int `json:"b"`
}

type ChartLayout struct {
	Margin Margin `json:"margin"`
}

type ChartSpec struct {
	Data   []Series    `json:"data"`
	Layout ChartLayout `json:"layout"`
}

type StoryPanel struct {
	Visible bool   `json:"visible"`
	Row     int    `json:"row"`
	StoryID string `json:"storyId,omitempty"`
	Text    string `json:"text"`
}

// ViewUpdate is the combined render result of one selection event.
type ViewUpdate struct {
	Generation uint64     `json:"generation"`
	Symbol     string     `json:"symbol"`
	StartDate  string     `json:"startDate,omitempty"`
	EndDate    string     `json:"endDate,omitempty"`
	News       []NewsItem `json:"news"`
	Ratios     []RatioRow `json:"ratios"`
	ESG        []RatioRow `json:"esg"`
	Chart      ChartSpec  `json:"chart"`
	Loading    bool       `json:"loading"`
	Stale      bool       `json:"stale,omitempty"`
	TsISO      string     `json:"tsISO"`
}

type LayoutResponse struct {
	Title        string   `json:"title"`
	Profile      string   `json:"profile"`
	Universe     []string `json:"universe"`
	MinYear      int      `json:"minYear,omitempty"`
	MaxYear      int      `json:"maxYear,omitempty"`
	NewsColumns  []string `json:"newsColumns"`
	ESGColumns   []string `json:"esgColumns,omitempty"`
	StreamFields []string `json:"streamFields"`
	Features     any      `json:"features"`
	QuoteEveryMs int64    `json:"quoteEveryMs"`
}

type HealthResponse struct {
	Ok          bool                 `json:"ok"`
	TsISO       string               `json:"tsISO"`
	Service     string               `json:"service"`
	Version     string               `json:"version,omitempty"`
	Deps        []string             `json:"deps"`
	DepsStatus  map[string]DepStatus `json:"deps_status,omitempty"`
	DataMissing []string             `json:"data_missing"`
	Env         map[string]bool      `json:"env"`
	Features    map[string]bool      `json:"features"`
}

type DepStatus struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
