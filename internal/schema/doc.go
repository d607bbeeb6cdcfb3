// Package schema defines the farm record data model shared by every storage
// backend.
//
// # Overview
//
// The application state is a single aggregate made of three parts:
//
//   - transactions: income and expense entries, one per sale or purchase
//   - settings: farm name, manager, location and currency symbol
//   - tasks: farm chores scheduled against an enterprise
//
// Two shapes of that aggregate exist. Snapshot is the partial wire form read
// from the local slot, a backup file or the remote store: any part may be
// missing. State is the resolved in-memory form in which settings are always
// complete.
//
// # Local Slot Layout
//
// The local store keeps one JSON document:
//
//	{
//	  "transactions": [
//	    {
//	      "id": "5f1c...",
//	      "date": "2026-03-02T08:00:00Z",
//	      "livestockType": "dairy",
//	      "transactionType": "income",
//	      "category": "Milk Sales",
//	      "amount": "120.50",
//	      "description": "Morning delivery"
//	    }
//	  ],
//	  "settings": {"farmName": "My Farm", "currency": "$"},
//	  "tasks": []
//	}
//
// # Task Migrations
//
// Tasks written by older releases may lack fields added later. MigrateTask
// applies the ordered migration steps in migrate.go; the state reducer runs it
// on every bulk replace so old blobs stay loadable.
//
// # Validation
//
// Validate methods enforce the edit boundary rules (non-empty strings,
// non-negative amounts, known enum values). Stored data is never validated on
// load.
package schema
