// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package tools

import "strings"

// categoryKeywords maps spending categories to merchant and description
// substrings. First category with a hit wins; order matters because some
// keywords overlap ("market" vs "supermarket").
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"groceries", []string{"tesco", "aldi", "lidl", "asda", "market", "grocery"}},
	{"transport", []string{"uber", "bolt", "tfl", "transport", "train", "bus"}},
	{"eating_out", []string{"coffee", "cafe", "restaurant", "pizza", "bar"}},
}

// Categorize assigns a spending category by substring match against the
// merchant name and the free-text description.
func Categorize(merchant, description string) string {
	haystack := strings.ToLower(merchant) + " " + strings.ToLower(description)
	for _, entry := range categoryKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(haystack, keyword) {
				return entry.category
			}
		}
	}
	return "other"
}
