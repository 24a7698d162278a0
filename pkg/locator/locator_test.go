package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyValidate(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		wantErr  bool
	}{
		{
			name:     "valid testId",
			strategy: Strategy{Type: TypeTestID, Priority: 1, Value: "submit-btn"},
		},
		{
			name:     "valid role",
			strategy: Strategy{Type: TypeRole, Priority: 2, Role: "button", Name: "Submit"},
		},
		{
			name:     "valid xpath",
			strategy: Strategy{Type: TypeXPath, Priority: 3, Expression: "//button[1]"},
		},
		{
			name:     "unknown type",
			strategy: Strategy{Type: "id", Priority: 1},
			wantErr:  true,
		},
		{
			name:     "negative priority",
			strategy: Strategy{Type: TypeCSS, Priority: -1, Selector: ".btn"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.strategy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	loc := &ElementLocator{
		DisplayName: "Submit Button",
		Strategies: []Strategy{
			{Type: TypeTestID, Priority: 3, Value: "submit-btn"},
			{Type: TypeRole, Priority: 7, Role: "button", Name: "Submit"},
			{Type: TypeCSS, Priority: 10, Selector: ".btn-submit"},
		},
	}

	loc.Normalize()

	require.Len(t, loc.Strategies, 3)

	for i, s := range loc.Strategies {
		assert.Equal(t, i+1, s.Priority)
	}

	// Relative order is preserved.
	assert.Equal(t, TypeTestID, loc.Strategies[0].Type)
	assert.Equal(t, TypeRole, loc.Strategies[1].Type)
	assert.Equal(t, TypeCSS, loc.Strategies[2].Type)
}

func TestAdoptHealedRemovesOriginal(t *testing.T) {
	loc := &ElementLocator{
		DisplayName: "Submit Button",
		Strategies: []Strategy{
			{Type: TypeCSS, Priority: 1, Selector: ".btn-old"},
			{Type: TypeRole, Priority: 2, Role: "button", Name: "Submit"},
		},
	}

	loc.AdoptHealed(
		Strategy{Type: TypeTestID, Value: "submit-btn"}, TypeCSS,
	)

	// The failed css strategy is gone; the healed testId leads and the
	// untouched role strategy follows.
	require.Len(t, loc.Strategies, 2)
	assert.Equal(t, TypeTestID, loc.Strategies[0].Type)
	assert.Equal(t, "submit-btn", loc.Strategies[0].Value)
	assert.Equal(t, 1, loc.Strategies[0].Priority)
	assert.Equal(t, TypeRole, loc.Strategies[1].Type)
	assert.Equal(t, 2, loc.Strategies[1].Priority)
}

func TestAdoptHealedSameType(t *testing.T) {
	loc := &ElementLocator{
		DisplayName: "Submit Button",
		Strategies: []Strategy{
			{Type: TypeCSS, Priority: 1, Selector: ".btn-old"},
			{Type: TypeXPath, Priority: 2, Expression: "//button[@class='btn-old']"},
		},
	}

	loc.AdoptHealed(Strategy{Type: TypeCSS, Selector: ".btn-new"}, TypeCSS)

	require.Len(t, loc.Strategies, 2)
	assert.Equal(t, TypeCSS, loc.Strategies[0].Type)
	assert.Equal(t, ".btn-new", loc.Strategies[0].Selector)
	assert.Equal(t, 1, loc.Strategies[0].Priority)
	assert.Equal(t, TypeXPath, loc.Strategies[1].Type)
	assert.Equal(t, 2, loc.Strategies[1].Priority)
}

func TestAdoptHealedOriginalTypeAbsent(t *testing.T) {
	loc := &ElementLocator{
		DisplayName: "Submit Button",
		Strategies: []Strategy{
			{Type: TypeCSS, Priority: 1, Selector: ".btn"},
			{Type: TypeXPath, Priority: 2, Expression: "//button[1]"},
		},
	}

	// The list never carried the failed label strategy; nothing is
	// removed beyond the healed strategy's own type.
	loc.AdoptHealed(
		Strategy{Type: TypeTestID, Value: "submit-btn"}, TypeLabel,
	)

	require.Len(t, loc.Strategies, 3)
	assert.Equal(t, TypeTestID, loc.Strategies[0].Type)
	assert.Equal(t, TypeCSS, loc.Strategies[1].Type)
	assert.Equal(t, TypeXPath, loc.Strategies[2].Type)

	for i, s := range loc.Strategies {
		assert.Equal(t, i+1, s.Priority)
	}
}

func TestAdoptHealedIdempotent(t *testing.T) {
	loc := &ElementLocator{
		DisplayName: "Submit Button",
		Strategies: []Strategy{
			{Type: TypeCSS, Priority: 1, Selector: ".btn-old"},
			{Type: TypeLabel, Priority: 2, Value: "Submit"},
		},
	}

	healed := Strategy{Type: TypeTestID, Value: "submit-btn"}

	loc.AdoptHealed(healed, TypeCSS)
	first := append([]Strategy(nil), loc.Strategies...)

	loc.AdoptHealed(healed, TypeCSS)

	assert.Equal(t, first, loc.Strategies)
}
