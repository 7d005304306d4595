// Package model defines the value types flowing through the scout pipeline.
package model

import "strings"

// Org represents one organization to analyze. Immutable once loaded.
type Org struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Website     string `json:"website"`
	Description string `json:"description"`
	Sector      string `json:"sector,omitempty"`
	Country     string `json:"country,omitempty"`
	Hall        string `json:"hall,omitempty"`
	Days        string `json:"days,omitempty"`
}

// DisplayName returns the org name, falling back to the website when the
// roster carried no name.
func (o Org) DisplayName() string {
	if strings.TrimSpace(o.Name) != "" {
		return o.Name
	}
	return o.Website
}
