// Package reader is the persistent catalogue of access-control readers.
//
// It holds three SQLite-backed stores:
//
//	┌──────────────────────┐   ┌──────────────────────┐   ┌──────────────────────┐
//	│   SQLiteRepository   │   │    SettingsStore     │   │       EventLog       │
//	│  (repository.go)     │   │   (settings.go)      │   │     (events.go)      │
//	│                      │   │                      │   │                      │
//	│ • readers table      │   │ • configuration      │   │ • reader_events      │
//	│ • soft delete        │   │   key/value table    │   │   card scan history  │
//	└──────────────────────┘   └──────────────────────┘   └──────────────────────┘
//
// The connection manager consumes Repository and Settings; it never writes
// SQL itself. Several service instances may share one database, so every
// read goes to the database rather than a local cache.
//
// # Key Types
//
//   - Reader: network identity and flags of one terminal
//   - Repository: reader CRUD with soft delete
//   - Settings: string key/value access to the configuration table
package reader
