// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

// Command bankmcp runs the banking MCP gateway.
package main

import (
	"os"

	"github.com/adhdbudget/banking-mcp/cmd/bankmcp/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
