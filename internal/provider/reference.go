package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Location is one row of the provider's location table.
type Location struct {
	Code       int    `json:"location_code"`
	Name       string `json:"location_name"`
	ParentCode *int   `json:"location_code_parent"`
	CountryISO string `json:"country_iso_code"`
	Type       string `json:"location_type"`
}

// KeywordVolume is the search volume of one keyword.
type KeywordVolume struct {
	Keyword      string   `json:"keyword"`
	SearchVolume *int     `json:"search_volume"`
	Competition  string   `json:"competition"`
	CPC          *float64 `json:"cpc"`
}

// Locations lists the locations of a country by ISO code.
func (c *Client) Locations(ctx context.Context, countryISO string) ([]Location, error) {
	path := "/v3/serp/google/locations"
	if countryISO != "" {
		path += "/" + strings.ToLower(countryISO)
	}

	task, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	locations := []Location{}
	if task != nil && len(task.Result) > 0 {
		if err := json.Unmarshal(task.Result, &locations); err != nil {
			return []Location{}, nil
		}
	}
	return locations, nil
}

type searchVolumeTask struct {
	Keywords     []string `json:"keywords"`
	LocationCode int      `json:"location_code,omitempty"`
	LanguageCode string   `json:"language_code,omitempty"`
}

// SearchVolume returns monthly search volumes for up to 1000 keywords.
func (c *Client) SearchVolume(ctx context.Context, keywords []string, locationCode int, languageCode string) ([]KeywordVolume, error) {
	body := []searchVolumeTask{{Keywords: keywords, LocationCode: locationCode, LanguageCode: languageCode}}

	task, err := c.do(ctx, http.MethodPost, "/v3/keywords_data/google_ads/search_volume/live", body)
	if err != nil {
		return nil, err
	}

	volumes := []KeywordVolume{}
	if task != nil && len(task.Result) > 0 {
		if err := json.Unmarshal(task.Result, &volumes); err != nil {
			return []KeywordVolume{}, nil
		}
	}
	return volumes, nil
}
