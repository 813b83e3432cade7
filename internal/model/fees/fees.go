package fees

import (
	"encoding/json"
	"fmt"
)

// RecommendedFees mirrors the fee estimates pushed by the explorer, in sat/vB.
// Field order is the order the explorer serialises them in.
type RecommendedFees struct {
	EconomyFee  float64 `json:"economyFee"`
	HourFee     float64 `json:"hourFee"`
	HalfHourFee float64 `json:"halfHourFee"`
	FastestFee  float64 `json:"fastestFee"`
	MinimumFee  float64 `json:"minimumFee"`
}

// IsZero reports whether no estimate has been received.
func (f RecommendedFees) IsZero() bool {
	return f == RecommendedFees{}
}

// ParsedData renders the fees as the indented JSON handed to the model.
func (f RecommendedFees) ParsedData() (string, error) {
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal fees: %w", err)
	}
	return string(b), nil
}
