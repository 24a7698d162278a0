// Package locator models named element locators and their prioritized
// resolution strategies, including the rewrites applied when a healed
// strategy is adopted.
package locator

import (
	"fmt"
)

// Strategy type tags. Resolution tries strategies in ascending priority
// order; lower is tried first.
const (
	TypeTestID = "testId"
	TypeRole   = "role"
	TypeText   = "text"
	TypeLabel  = "label"
	TypeCSS    = "css"
	TypeXPath  = "xpath"
)

// Strategy is one concrete way to locate an element. Type selects the
// variant; only the fields belonging to that variant are populated.
type Strategy struct {
	Type     string `json:"type"`
	Priority int    `json:"priority"`

	// testId, text, label variants.
	Value string `json:"value,omitempty"`

	// role variant.
	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`

	// text variant.
	Exact bool `json:"exact,omitempty"`

	// css variant.
	Selector string `json:"selector,omitempty"`

	// xpath variant.
	Expression string `json:"expression,omitempty"`
}

// validTypes is the set of supported strategy type tags.
var validTypes = map[string]struct{}{
	TypeTestID: {},
	TypeRole:   {},
	TypeText:   {},
	TypeLabel:  {},
	TypeCSS:    {},
	TypeXPath:  {},
}

// Validate checks that the strategy carries a known type tag and a
// non-negative priority.
func (s *Strategy) Validate() error {
	if _, ok := validTypes[s.Type]; !ok {
		return fmt.Errorf("unknown strategy type %q", s.Type)
	}

	if s.Priority < 0 {
		return fmt.Errorf("strategy priority must be non-negative, got %d", s.Priority)
	}

	return nil
}

// HealingConfig controls healing behavior for a single locator.
type HealingConfig struct {
	Enabled             bool    `json:"enabled"`
	AutoApprove         bool    `json:"autoApprove"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
}

// ElementLocator is a named, prioritized list of strategies for finding
// a UI element. Strategy priorities are unique and, after any mutation,
// renumbered to a dense 1..N sequence matching list order.
type ElementLocator struct {
	DisplayName string        `json:"displayName"`
	Strategies  []Strategy    `json:"strategies"`
	Healing     HealingConfig `json:"healing"`
}

// Normalize renumbers strategy priorities to a dense 1..N sequence
// matching the current list order. Call after any add/remove/reorder.
func (l *ElementLocator) Normalize() {
	for i := range l.Strategies {
		l.Strategies[i].Priority = i + 1
	}
}

// AdoptHealed rewrites the strategy list to adopt a healed strategy in
// place of the one it replaces: entries tagged with the failed
// original's type or the healed strategy's type are removed, the
// healed strategy is prepended at priority 1, and the remaining
// strategies are renumbered sequentially starting at 2, preserving
// their relative order. The operation is idempotent in content.
func (l *ElementLocator) AdoptHealed(healed Strategy, originalType string) {
	kept := make([]Strategy, 0, len(l.Strategies)+1)

	healed.Priority = 1
	kept = append(kept, healed)

	for _, s := range l.Strategies {
		if s.Type == healed.Type {
			continue
		}

		if originalType != "" && s.Type == originalType {
			continue
		}

		kept = append(kept, s)
	}

	l.Strategies = kept
	l.Normalize()
}
