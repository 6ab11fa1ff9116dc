// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

// Package tools implements the MCP tool surface: discovery, bearer
// validation against the gateway's token store, and the budget tools built
// on normalised Enable Banking data.
package tools

import (
	"context"

	"github.com/adhdbudget/banking-mcp/pkg/authserver/storage"
	"github.com/adhdbudget/banking-mcp/pkg/enablebanking"
	"github.com/adhdbudget/banking-mcp/pkg/session"
)

// BankReader is the slice of the upstream client the tools need.
type BankReader interface {
	ListAccounts(ctx context.Context, tok *enablebanking.Tokens) ([]enablebanking.Account, bool, error)
	ListTransactions(ctx context.Context, accountID string, tok *enablebanking.Tokens, dateFrom, dateTo string) ([]map[string]any, bool, error)
	Refresh(ctx context.Context, refreshToken string) (*enablebanking.Tokens, error)
}

// CallContext carries per-call state into a tool handler.
type CallContext struct {
	// Session receives progress events during long calls; nil for
	// sessionless invocations.
	Session *session.Session

	// ClientID of the authenticated caller, empty for public tools.
	ClientID string

	// AccessToken is the local bearer presented, used to write refreshed
	// upstream tokens back to the store.
	AccessToken string

	// Tokens are the caller's upstream consent tokens; nil until a
	// protected tool resolves them.
	Tokens *enablebanking.Tokens
}

// HandlerFunc executes one tool call and returns the MCP result payload.
type HandlerFunc func(ctx context.Context, call *CallContext, args map[string]any) (map[string]any, error)

// Definition describes one tool for tools/list and dispatch.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Protected   bool
	Handler     HandlerFunc
}

// Runtime owns the tool set and its dependencies.
type Runtime struct {
	store   *storage.MemoryStore
	bank    BankReader
	sandbox bool
	defs    []*Definition
	byName  map[string]*Definition
	budget  float64
}

// DefaultDailyBudget is the assumed daily spending budget used by the
// summary and projection tools when no per-user budget exists.
const DefaultDailyBudget = 50.0

// NewRuntime builds the registry. bank may be nil; protected tools then
// fail with a consent error.
func NewRuntime(store *storage.MemoryStore, bank BankReader, sandbox bool) *Runtime {
	rt := &Runtime{
		store:   store,
		bank:    bank,
		sandbox: sandbox,
		byName:  make(map[string]*Definition),
		budget:  DefaultDailyBudget,
	}
	rt.registerAll()
	return rt
}

func (rt *Runtime) register(def *Definition) {
	rt.defs = append(rt.defs, def)
	rt.byName[def.Name] = def
}

// Lookup returns the definition for a tool name.
func (rt *Runtime) Lookup(name string) (*Definition, bool) {
	def, ok := rt.byName[name]
	return def, ok
}

// List returns the tools/list payload in registration order.
func (rt *Runtime) List() []map[string]any {
	out := make([]map[string]any, 0, len(rt.defs))
	for _, def := range rt.defs {
		out = append(out, map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": def.InputSchema,
		})
	}
	return out
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (rt *Runtime) registerAll() {
	rt.register(&Definition{
		Name:        "echo",
		Description: "Echo a message back, useful for connectivity checks",
		InputSchema: objectSchema(map[string]any{
			"message": map[string]any{"type": "string", "description": "Text to echo"},
		}),
		Handler: rt.handleEcho,
	})
	rt.register(&Definition{
		Name:        "search",
		Description: "Search recent transactions by merchant or description text",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query"},
			"limit": map[string]any{"type": "integer", "description": "Maximum results, capped at 200"},
		}),
		Protected: true,
		Handler:   rt.handleSearch,
	})
	rt.register(&Definition{
		Name:        "fetch",
		Description: "Fetch a single transaction by id",
		InputSchema: objectSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Transaction id"},
		}, "id"),
		Protected: true,
		Handler:   rt.handleFetch,
	})
	rt.register(&Definition{
		Name:        "summary.today",
		Description: "Summarise today's spending against the daily budget",
		InputSchema: objectSchema(map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Account to summarise, defaults to the first"},
			"currency":   map[string]any{"type": "string", "description": "Display currency"},
			"budget":     map[string]any{"type": "number", "description": "Daily budget override"},
		}),
		Protected: true,
		Handler:   rt.handleSummaryToday,
	})
	rt.register(&Definition{
		Name:        "projection.month",
		Description: "Project this month's spend from the pace so far",
		InputSchema: objectSchema(map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Account to project, defaults to the first"},
			"budget":     map[string]any{"type": "number", "description": "Daily budget override"},
		}),
		Protected: true,
		Handler:   rt.handleProjectionMonth,
	})
	rt.register(&Definition{
		Name:        "transactions.query",
		Description: "List normalised transactions for a date range",
		InputSchema: objectSchema(map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Account id, defaults to the first"},
			"since":      map[string]any{"type": "string", "description": "Start date (YYYY-MM-DD)"},
			"until":      map[string]any{"type": "string", "description": "End date (YYYY-MM-DD)"},
			"limit":      map[string]any{"type": "integer", "description": "Maximum results, capped at 500"},
		}),
		Protected: true,
		Handler:   rt.handleTransactionsQuery,
	})
}
