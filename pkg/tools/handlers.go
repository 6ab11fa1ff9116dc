// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/adhdbudget/banking-mcp/pkg/networking"
)

// ArgumentError reports an invalid tool argument; the transport maps it to
// an invalid-params JSON-RPC error.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string { return e.Message }

// IsArgumentError reports whether err is an ArgumentError.
func IsArgumentError(err error) bool {
	var argErr *ArgumentError
	return errors.As(err, &argErr)
}

const maxQueryLimit = 500

const dateLayout = "2006-01-02"

func (rt *Runtime) handleEcho(_ context.Context, _ *CallContext, args map[string]any) (map[string]any, error) {
	message, _ := args["message"].(string)
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": message},
		},
	}, nil
}

const (
	maxSearchLimit  = 200
	searchRangeDays = 30
)

func (rt *Runtime) handleSearch(ctx context.Context, call *CallContext, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)

	limit := maxSearchLimit
	if v, ok := args["limit"]; ok {
		parsed := int(toFloat(v))
		if parsed <= 0 {
			return nil, &ArgumentError{Message: "limit must be positive"}
		}
		if parsed < limit {
			limit = parsed
		}
	}

	if call.Session != nil {
		call.Session.Publish(map[string]any{
			"event": "search",
			"query": query,
		})
	}

	now := time.Now()
	txs, _, err := rt.fetchNormalized(ctx, call, "",
		now.AddDate(0, 0, -searchRangeDays).Format(dateLayout), now.Format(dateLayout))
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	results := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if needle != "" &&
			!strings.Contains(strings.ToLower(tx.Merchant), needle) &&
			!strings.Contains(strings.ToLower(tx.Description), needle) {
			continue
		}
		results = append(results, tx)
		if len(results) == limit {
			break
		}
	}
	return map[string]any{
		"results": results,
		"query":   query,
	}, nil
}

func (rt *Runtime) handleFetch(ctx context.Context, call *CallContext, args map[string]any) (map[string]any, error) {
	id, _ := args["id"].(string)
	if id == "" {
		return nil, &ArgumentError{Message: "id is required"}
	}

	now := time.Now()
	txs, _, err := rt.fetchNormalized(ctx, call, "",
		now.AddDate(0, 0, -searchRangeDays).Format(dateLayout), now.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if tx.ID == id {
			return map[string]any{"resource": tx}, nil
		}
	}
	return nil, networking.NewHTTPError(404, "", "transaction not found: "+id)
}

// fetchNormalized pulls and normalises transactions for one account over a
// date range, resolving the account id when the caller left it empty. A 401
// retry inside the upstream client rotates the tokens in place; the rotation
// is persisted here so the stored grant never keeps a retired refresh token.
func (rt *Runtime) fetchNormalized(ctx context.Context, call *CallContext, accountID, since, until string) ([]Transaction, string, error) {
	if rt.bank == nil {
		return nil, "", networking.NewHTTPError(503, "",
			"Enable Banking is not configured. Set ENABLE_APP_ID and ENABLE_PRIVATE_KEY_PATH and restart the gateway.")
	}

	var rotated bool
	defer func() {
		if rotated {
			rt.persistTokens(call)
		}
	}()

	if accountID == "" {
		accounts, refreshed, err := rt.bank.ListAccounts(ctx, call.Tokens)
		rotated = rotated || refreshed
		if err != nil {
			return nil, "", fmt.Errorf("failed to list accounts: %w", err)
		}
		if len(accounts) == 0 {
			return nil, "", networking.NewHTTPError(404, "", "no accounts available")
		}
		accountID = accounts[0].ID()
	}

	raw, refreshed, err := rt.bank.ListTransactions(ctx, accountID, call.Tokens, since, until)
	rotated = rotated || refreshed
	if err != nil {
		return nil, "", fmt.Errorf("failed to list transactions: %w", err)
	}

	normalized := make([]Transaction, 0, len(raw))
	for _, tx := range raw {
		normalized = append(normalized, NormalizeTransaction(tx, accountID))
	}
	return normalized, accountID, nil
}

// dailyBudget resolves the per-call budget, preferring an explicit
// override from the arguments.
func (rt *Runtime) dailyBudget(args map[string]any) float64 {
	if v, ok := args["budget"]; ok {
		if b := toFloat(v); b > 0 {
			return b
		}
	}
	return rt.budget
}

func (rt *Runtime) handleSummaryToday(ctx context.Context, call *CallContext, args map[string]any) (map[string]any, error) {
	accountID, _ := args["account_id"].(string)
	budget := rt.dailyBudget(args)
	today := time.Now().Format(dateLayout)

	txs, _, err := rt.fetchNormalized(ctx, call, accountID, today, today)
	if err != nil {
		return nil, err
	}

	var totalSpent float64
	categories := make(map[string]float64)
	count := 0
	for _, tx := range txs {
		if tx.Amount >= 0 {
			continue
		}
		spent := math.Abs(tx.Amount)
		totalSpent += spent
		categories[tx.Category] += spent
		count++
	}

	variance := budget - totalSpent
	status := "under"
	if totalSpent > budget {
		status = "over"
	}

	return map[string]any{
		"summary": map[string]any{
			"date":         today,
			"transactions": count,
			"total_spent":  round2(totalSpent),
			"categories":   roundCategories(categories),
			"daily_budget": budget,
			"variance":     round2(variance),
			"status":       status,
		},
	}, nil
}

func (rt *Runtime) handleProjectionMonth(ctx context.Context, call *CallContext, args map[string]any) (map[string]any, error) {
	accountID, _ := args["account_id"].(string)
	dayBudget := rt.dailyBudget(args)
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	daysInMonth := monthStart.AddDate(0, 1, -1).Day()
	day := now.Day()

	txs, _, err := rt.fetchNormalized(ctx, call, accountID,
		monthStart.Format(dateLayout), now.Format(dateLayout))
	if err != nil {
		return nil, err
	}

	var spend float64
	for _, tx := range txs {
		if tx.Amount < 0 {
			spend += math.Abs(tx.Amount)
		}
	}

	dailyRate := spend / float64(max(1, day))
	projected := dailyRate * float64(daysInMonth)
	budget := dayBudget * float64(daysInMonth)
	variance := budget - projected
	pace := "under"
	if projected > budget {
		pace = "over"
	}

	return map[string]any{
		"projection": map[string]any{
			"month":           now.Format("2006-01"),
			"current_spend":   round2(spend),
			"projected_spend": round2(projected),
			"budget":          round2(budget),
			"variance":        round2(variance),
			"pace":            pace,
			"days_remaining":  daysInMonth - day,
		},
	}, nil
}

func (rt *Runtime) handleTransactionsQuery(ctx context.Context, call *CallContext, args map[string]any) (map[string]any, error) {
	accountID, _ := args["account_id"].(string)
	since, _ := args["since"].(string)
	until, _ := args["until"].(string)

	now := time.Now()
	if until == "" {
		until = now.Format(dateLayout)
	}
	if since == "" {
		since = now.AddDate(0, 0, -30).Format(dateLayout)
	}
	if _, err := time.Parse(dateLayout, since); err != nil {
		return nil, &ArgumentError{Message: "since must be YYYY-MM-DD"}
	}
	if _, err := time.Parse(dateLayout, until); err != nil {
		return nil, &ArgumentError{Message: "until must be YYYY-MM-DD"}
	}

	limit := maxQueryLimit
	if v, ok := args["limit"]; ok {
		parsed := int(toFloat(v))
		if parsed <= 0 {
			return nil, &ArgumentError{Message: "limit must be positive"}
		}
		if parsed < limit {
			limit = parsed
		}
	}

	if call.Session != nil {
		call.Session.Publish(map[string]any{
			"event":   "progress",
			"message": "Fetching transactions",
		})
	}

	txs, resolvedAccount, err := rt.fetchNormalized(ctx, call, accountID, since, until)
	if err != nil {
		return nil, err
	}

	if call.Session != nil {
		call.Session.Publish(map[string]any{
			"event":   "progress",
			"message": "Normalising results",
		})
	}

	if len(txs) > limit {
		txs = txs[:limit]
	}

	return map[string]any{
		"transactions": txs,
		"count":        len(txs),
		"since":        since,
		"until":        until,
		"limit":        limit,
		"account_id":   resolvedAccount,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundCategories(categories map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(categories))
	for k, v := range categories {
		out[k] = round2(v)
	}
	return out
}
