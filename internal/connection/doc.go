// Package connection orchestrates the TCP connections to every reader.
//
// The Manager owns one lmpi driver per enabled reader and a registry of
// live ConnectionInfo for every known reader. The Synchronizer keeps that
// registry in step with the shared reader store.
//
// # Architecture
//
//	            REST API / MQTT commands
//	                      │
//	                      ▼
//	┌──────────────────────────────────────────────┐      ┌──────────────────┐
//	│                   Manager                    │◀─────│   Synchronizer   │
//	│                                              │ diff │  (5 s poll after │
//	│  registry: id → ConnectionInfo               │      │   Ready closes)  │
//	│  drivers:  id → {driver, session uuid}       │      └────────┬─────────┘
//	└───────┬──────────────────────────▲───────────┘               │
//	        │ Start/Close/Send         │ Update(session)           │ ListAll
//	        ▼                          │                           ▼
//	┌──────────────┐  ┌──────────────┐ │                   ┌──────────────┐
//	│ lmpi.Driver  │  │ lmpi.Driver  │─┘                   │ reader store │
//	└──────────────┘  └──────────────┘                     └──────────────┘
//
// # Invariants
//
//   - At most one driver and one registry entry exist per reader ID.
//   - A replaced driver is removed from the table before its successor is
//     installed; its late updates carry a stale session and are dropped.
//   - Drivers are closed and started outside the registry lock, so a slow
//     socket never stalls other readers.
//
// # Notifications
//
// Every registry change and card scan is published to subscribers as a
// Notification. Delivery is non-blocking: a subscriber that falls behind
// loses notifications rather than slowing the drivers.
package connection
