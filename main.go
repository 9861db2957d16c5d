// =============================================================================
// Merchant Analytics - Main Entry Point
// =============================================================================
//
// This is the main entry point for the merchant analytics CLI. It delegates
// command execution to the cmd package.
//
// USAGE:
//   analytics ingest     - Ingest merchant and residual exports
//   analytics merge      - Merge one merchant file with one residual file
//   analytics report     - Build analytics and dashboard files from the store
//   analytics sync       - Sync merchants, residuals or volumes from the CRM
//   analytics serve      - Serve the HTTP API
//   analytics version    - Display the application version
//
// ARCHITECTURE:
//   - cmd/           : CLI command definitions (Cobra)
//   - internal/      : Ingestion, storage, analytics, CRM, notifications, API
//   - pkg/           : Shared file management utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/merchant-analytics/cmd"
)

func main() {
	cmd.Execute()
}
