package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Profile describes one dashboard variant: the fixed lists it shows and the
// widgets it turns on.
type Profile struct {
	Name         string   `mapstructure:"name" yaml:"name" json:"name"`
	Title        string   `mapstructure:"title" yaml:"title" json:"title"`
	Universe     []string `mapstructure:"universe" yaml:"universe" json:"universe"`
	MinYear      int      `mapstructure:"min_year" yaml:"min_year" json:"minYear"`
	MaxYear      int      `mapstructure:"max_year" yaml:"max_year" json:"maxYear"`
	HistoryCount int      `mapstructure:"history_count" yaml:"history_count" json:"historyCount"`
	PriceField   string   `mapstructure:"price_field" yaml:"price_field" json:"priceField"`
	NewsLimit    int      `mapstructure:"news_limit" yaml:"news_limit" json:"newsLimit"`
	NewsColumns  []string `mapstructure:"news_columns" yaml:"news_columns" json:"newsColumns"`
	RatioLabels  []string `mapstructure:"ratio_labels" yaml:"ratio_labels" json:"ratioLabels"`
	ESGLabels    []string `mapstructure:"esg_labels" yaml:"esg_labels" json:"esgLabels"`
	StreamFields []string `mapstructure:"stream_fields" yaml:"stream_fields" json:"streamFields"`
	Features     Features `mapstructure:"features" yaml:"features" json:"features"`
}

type Features struct {
	YearRange   bool   `mapstructure:"year_range" yaml:"year_range" json:"yearRange"`
	SMAWindows  []int  `mapstructure:"sma_windows" yaml:"sma_windows" json:"smaWindows"`
	Ratios      bool   `mapstructure:"ratios" yaml:"ratios" json:"ratios"`
	ESG         bool   `mapstructure:"esg" yaml:"esg" json:"esg"`
	StoryPanel  bool   `mapstructure:"story_panel" yaml:"story_panel" json:"storyPanel"`
	QuoteLayout string `mapstructure:"quote_layout" yaml:"quote_layout" json:"quoteLayout"`
}

const (
	QuoteLayoutGrid     = "grid"
	QuoteLayoutSnapshot = "snapshot"
)

var Dow30 = []string{
	"GS.N", "NKE.N", "CSCO.OQ", "JPM.N", "DIS.N", "INTC.OQ", "DOW.N", "MRK.N", "CVX.N", "AXP.N",
	"VZ.N", "HD.N", "WBA.OQ", "XOM.N", "MCD.N", "UNH.N", "KO.N", "JNJ.N", "MSFT.OQ", "PG.N",
	"IBM.N", "PFE.N", "MMM.N", "AAPL.OQ", "WMT.N", "UTX.N", "CAT.N", "V.N", "TRV.N", "BA.N",
}

var StreamFields = []string{
	"DSPLY_NAME", "TRDPRC_1", "NETCHNG_1", "HIGH_1", "LOW_1", "OPEN_PRC", "HST_CLOSE",
	"BID", "ASK", "ACVOL_1", "EARNINGS", "YIELD", "PERATIO",
}

func SummaryProfile() Profile {
	return Profile{
		Name:         "summary",
		Title:        "Sample Test Financial App",
		Universe:     append([]string(nil), Dow30...),
		MinYear:      2010,
		MaxYear:      2019,
		PriceField:   "TRDPRC_1",
		NewsColumns:  []string{"text", "date"},
		RatioLabels:  []string{"Instrument", "Net sales", "Gross Profit Margin - %", "Operating Margin - %", "EBITDA", "EPS", "ROA", "ROE"},
		StreamFields: append([]string(nil), StreamFields...),
		Features: Features{
			YearRange:   true,
			Ratios:      true,
			QuoteLayout: QuoteLayoutGrid,
		},
	}
}

func ContentProfile() Profile {
	return Profile{
		Name:         "content",
		Title:        "Sample Dash/Financial App",
		Universe:     append([]string(nil), Dow30...),
		HistoryCount: 360,
		PriceField:   "TRDPRC_1",
		NewsLimit:    10,
		NewsColumns:  []string{"text", "date"},
		ESGLabels: []string{
			"Instrument", "ESG Score", "Environment Pillar Score", "Social Pillar Score",
			"Governance Pillar Score", "Resource Use Score", "Emissions Score", "Innovation Score",
			"Workforce Score", "ESG Period Last Update Date",
		},
		StreamFields: append([]string(nil), StreamFields...),
		Features: Features{
			SMAWindows:  []int{20, 45},
			ESG:         true,
			StoryPanel:  true,
			QuoteLayout: QuoteLayoutSnapshot,
		},
	}
}

// LoadProfile resolves a built-in profile by name, or reads a YAML profile
// file when ref ends in .yaml or .yml. File values are layered over the
// content profile so a file may override only what it needs.
func LoadProfile(ref string) (Profile, error) {
	switch strings.ToLower(ref) {
	case "", "content":
		return ContentProfile(), nil
	case "summary":
		return SummaryProfile(), nil
	}
	if !strings.HasSuffix(ref, ".yaml") && !strings.HasSuffix(ref, ".yml") {
		return Profile{}, fmt.Errorf("unknown dashboard profile %q", ref)
	}

	v := viper.New()
	setProfileDefaults(v, ContentProfile())
	v.SetConfigFile(ref)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MARKETDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return Profile{}, fmt.Errorf("read profile %s: %w", ref, err)
	}

	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", ref, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", ref, err)
	}
	return p, nil
}

func setProfileDefaults(v *viper.Viper, p Profile) {
	v.SetDefault("name", p.Name)
	v.SetDefault("title", p.Title)
	v.SetDefault("universe", p.Universe)
	v.SetDefault("min_year", p.MinYear)
	v.SetDefault("max_year", p.MaxYear)
	v.SetDefault("history_count", p.HistoryCount)
	v.SetDefault("price_field", p.PriceField)
	v.SetDefault("news_limit", p.NewsLimit)
	v.SetDefault("news_columns", p.NewsColumns)
	v.SetDefault("ratio_labels", p.RatioLabels)
	v.SetDefault("esg_labels", p.ESGLabels)
	v.SetDefault("stream_fields", p.StreamFields)
	v.SetDefault("features.year_range", p.Features.YearRange)
	v.SetDefault("features.sma_windows", p.Features.SMAWindows)
	v.SetDefault("features.ratios", p.Features.Ratios)
	v.SetDefault("features.esg", p.Features.ESG)
	v.SetDefault("features.story_panel", p.Features.StoryPanel)
	v.SetDefault("features.quote_layout", p.Features.QuoteLayout)
}

// Validate checks the fields every dashboard needs.
func (p Profile) Validate() error {
	if len(p.Universe) == 0 {
		return fmt.Errorf("universe cannot be empty")
	}
	if p.PriceField == "" {
		return fmt.Errorf("price field cannot be empty")
	}
	if p.Features.YearRange {
		if p.MinYear <= 0 || p.MaxYear < p.MinYear {
			return fmt.Errorf("invalid year bounds %d..%d", p.MinYear, p.MaxYear)
		}
	} else if p.HistoryCount <= 0 {
		return fmt.Errorf("history count must be greater than 0 without a year range")
	}
	for _, w := range p.Features.SMAWindows {
		if w <= 0 {
			return fmt.Errorf("sma window must be greater than 0, got %d", w)
		}
	}
	switch p.Features.QuoteLayout {
	case QuoteLayoutGrid, QuoteLayoutSnapshot:
	default:
		return fmt.Errorf("unknown quote layout %q", p.Features.QuoteLayout)
	}
	return nil
}

// Contains reports whether symbol belongs to the profile universe.
func (p Profile) Contains(symbol string) bool {
	for _, s := range p.Universe {
		if s == symbol {
			return true
		}
	}
	return false
}
