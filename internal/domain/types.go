package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	b := rawBytes(value)
	if b == nil {
		return errors.New("failed to scan StringArray")
	}
	return json.Unmarshal(b, a)
}

// RankedEntity is one business or site observed in a ranked result list.
type RankedEntity struct {
	Name        string   `json:"name"`
	ExternalID  string   `json:"external_id,omitempty"` // place_id or cid for map results
	Domain      string   `json:"domain,omitempty"`
	Rank        int      `json:"rank"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount int      `json:"review_count"`
	IsTarget    bool     `json:"is_target,omitempty"`
}

// RankedEntities stores the bounded competitor list of a grid point as JSON text.
type RankedEntities []RankedEntity

// Value implements the driver.Valuer interface.
func (e RankedEntities) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (e *RankedEntities) Scan(value interface{}) error {
	if value == nil {
		*e = RankedEntities{}
		return nil
	}
	b := rawBytes(value)
	if b == nil {
		return errors.New("failed to scan RankedEntities")
	}
	return json.Unmarshal(b, e)
}

func rawBytes(value interface{}) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}
