// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		merchant    string
		description string
		want        string
	}{
		{"tesco by merchant", "TESCO STORES 3297", "", "groceries"},
		{"lidl by description", "", "LIDL GB LONDON", "groceries"},
		{"supermarket keyword", "Borough Market", "", "groceries"},
		{"uber", "UBER *TRIP", "", "transport"},
		{"tfl", "", "TFL TRAVEL CH", "transport"},
		{"train", "LNER", "train ticket to York", "transport"},
		{"coffee", "PRET A MANGER", "coffee and croissant", "eating_out"},
		{"restaurant", "", "Dinner at restaurant", "eating_out"},
		{"pizza", "FRANCO MANCA PIZZA", "", "eating_out"},
		{"mixed case", "TeScO", "", "groceries"},
		{"no match", "AMAZON UK", "household goods", "other"},
		{"empty", "", "", "other"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Categorize(tt.merchant, tt.description))
		})
	}
}
