// Package app is the composition layer of the service.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (account, item)
//	├── services/           # Business rules (accounts, items, maintenance)
//	├── storage/            # Store interfaces plus memory, sql and cache layers
//	├── httpapi/            # HTTP handlers, routing and the audit log
//	├── auth/               # Bearer tokens, JWT and roles
//	├── events/             # Websocket change feed
//	├── health/             # Readiness checks and host snapshot
//	├── metrics/            # Prometheus collectors
//	├── system/             # Service lifecycle manager
//	├── validation/         # Struct validation rules
//	└── runtime/            # Process assembly: database, cache, server
//
// # Dependency Direction
//
//	cmd/projectone/
//	      │
//	      ▼
//	internal/app/runtime
//	      │
//	      ├──► internal/app/httpapi ──► internal/middleware
//	      │
//	      └──► internal/app (composition)
//	                  │
//	                  ├──► services ──► storage ──► domain
//	                  │
//	                  └──► system, events, health
//
// Services never import httpapi, and storage never imports services. The
// HTTP layer converts service errors into the JSON error envelope through
// internal/errors.
//
// # Adding a New Resource
//
//  1. Define the model and its validation tags in internal/app/domain/<name>/
//  2. Add the store interface to internal/app/storage/interfaces.go
//  3. Implement it in storage/memory and storage/sqlstore, with a migration
//     per dialect under internal/platform/migrations/sql/
//  4. Run it through storage/storagetest from both store test files
//  5. Write the service in internal/app/services/<name>/ and wire it in New
//  6. Add handlers and routes in internal/app/httpapi
package app
