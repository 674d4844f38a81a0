//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of EnrichETL.
//
// EnrichETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// EnrichETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with EnrichETL. If not, see https://www.gnu.org/licenses/.

package model

import (
	"encoding/json"
	"fmt"
)

// APIResponse is the subset of the external API's JSON document that enrichment projects.
//
//	{height, weight, base_experience, abilities: [{ability: {name}}], types: [{type: {name}}]}
type APIResponse struct {
	Height         *float64      `json:"height"`
	Weight         *float64      `json:"weight"`
	BaseExperience *float64      `json:"base_experience"`
	Abilities      []AbilitySlot `json:"abilities"`
	Types          []TypeSlot    `json:"types"`
}

// AbilitySlot is one entry of the abilities array.
type AbilitySlot struct {
	Ability *NamedResource `json:"ability"`
}

// TypeSlot is one entry of the types array.
type TypeSlot struct {
	Type *NamedResource `json:"type"`
}

// NamedResource is a {name, url} reference as returned by the API.
type NamedResource struct {
	Name *string `json:"name"`
	URL  string  `json:"url,omitempty"`
}

// RequiredAPIFields are the top-level keys a response must carry.
var RequiredAPIFields = []string{"height", "weight", "base_experience", "abilities", "types"}

// MissingFieldError reports a required key absent from an API response.
// Field is a path such as "abilities[0].ability.name".
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("response is missing field %q", e.Field)
}

// DecodeAPIResponse parses body and checks that every required key is present.
// Numeric fields may be null. abilities and types must be arrays whose entries
// each carry a named ability or type.
func DecodeAPIResponse(body []byte) (*APIResponse, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w", err)
	}
	for _, field := range RequiredAPIFields {
		if _, ok := keys[field]; !ok {
			return nil, &MissingFieldError{Field: field}
		}
	}

	var resp APIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w", err)
	}
	if err := resp.validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *APIResponse) validate() error {
	if a.Abilities == nil {
		return &MissingFieldError{Field: "abilities"}
	}
	for i, slot := range a.Abilities {
		if slot.Ability == nil {
			return &MissingFieldError{Field: fmt.Sprintf("abilities[%d].ability", i)}
		}
		if slot.Ability.Name == nil {
			return &MissingFieldError{Field: fmt.Sprintf("abilities[%d].ability.name", i)}
		}
	}
	if a.Types == nil {
		return &MissingFieldError{Field: "types"}
	}
	for i, slot := range a.Types {
		if slot.Type == nil {
			return &MissingFieldError{Field: fmt.Sprintf("types[%d].type", i)}
		}
		if slot.Type.Name == nil {
			return &MissingFieldError{Field: fmt.Sprintf("types[%d].type.name", i)}
		}
	}
	return nil
}

// Enrich merges the response into an EnrichedRecord for the given name.
// Entries without a name are skipped; DecodeAPIResponse never yields them.
func (a *APIResponse) Enrich(name string) EnrichedRecord {
	abilities := make([]string, 0, len(a.Abilities))
	for _, slot := range a.Abilities {
		if slot.Ability != nil && slot.Ability.Name != nil {
			abilities = append(abilities, *slot.Ability.Name)
		}
	}
	types := make([]string, 0, len(a.Types))
	for _, slot := range a.Types {
		if slot.Type != nil && slot.Type.Name != nil {
			types = append(types, *slot.Type.Name)
		}
	}
	return EnrichedRecord{
		Name:           name,
		Height:         a.Height,
		Weight:         a.Weight,
		BaseExperience: a.BaseExperience,
		Abilities:      abilities,
		Types:          types,
	}
}
