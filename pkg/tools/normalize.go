// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"fmt"
	"strconv"
)

// Transaction is the normalised shape every tool works with. Amounts are
// signed: debits negative, credits positive.
type Transaction struct {
	ID          string         `json:"id"`
	Date        string         `json:"date"`
	ValueDate   string         `json:"valueDate,omitempty"`
	Amount      float64        `json:"amount"`
	Currency    string         `json:"currency"`
	Description string         `json:"description"`
	Merchant    string         `json:"merchant,omitempty"`
	Category    string         `json:"category"`
	Reference   string         `json:"reference,omitempty"`
	AccountID   string         `json:"account_id"`
	Raw         map[string]any `json:"raw,omitempty"`
}

// NormalizeTransaction maps a raw upstream transaction to the canonical
// shape. It is idempotent: feeding a normalised map back through produces
// the same result.
func NormalizeTransaction(raw map[string]any, accountID string) Transaction {
	tx := Transaction{
		ID:        stringField(raw, "transactionId", "id"),
		Date:      stringField(raw, "bookingDate", "date"),
		ValueDate: stringField(raw, "valueDate"),
		Currency:  "GBP",
		AccountID: accountID,
	}

	// The upstream payload rides along unmodified; re-normalising an
	// already-normalised map keeps the original payload, not the wrapper.
	if nested, ok := raw["raw"].(map[string]any); ok {
		tx.Raw = nested
	} else {
		tx.Raw = raw
	}
	if tx.AccountID == "" {
		tx.AccountID = stringField(raw, "account_id")
	}
	if tx.AccountID == "" {
		tx.AccountID = "default"
	}

	amount, currency := amountField(raw)
	if currency != "" {
		tx.Currency = currency
	}

	indicator := stringField(raw, "creditDebitIndicator")
	switch indicator {
	case "DBIT":
		if amount > 0 {
			amount = -amount
		}
	case "CRDT":
		if amount < 0 {
			amount = -amount
		}
	}
	tx.Amount = amount

	tx.Merchant = stringField(raw, "creditorName", "merchant")
	tx.Description = stringField(raw, "remittanceInformationUnstructured", "description")
	if tx.Description == "" {
		tx.Description = tx.Merchant
	}

	tx.Reference = stringField(raw, "endToEndId", "reference")
	if tx.Reference == "" {
		tx.Reference = tx.ID
	}

	tx.Category = Categorize(tx.Merchant, tx.Description)
	return tx
}

// amountField reads the upstream transactionAmount object, falling back to a
// flat amount/currency pair on already-normalised input.
func amountField(raw map[string]any) (float64, string) {
	if nested, ok := raw["transactionAmount"].(map[string]any); ok {
		return toFloat(nested["amount"]), stringField(nested, "currency")
	}
	return toFloat(raw["amount"]), stringField(raw, "currency")
}

func stringField(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s
				}
			case fmt.Stringer:
				return s.String()
			}
		}
	}
	return ""
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
