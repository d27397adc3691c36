// Package model defines the match and commentary types shared by the request
// client, the realtime connection and the entity store.
//
// Conventions:
//   - IDs: int64, server-assigned
//   - Timestamps: ISO 8601 text, compared only when validating new matches
//   - Nullable commentary tags are pointers; nil means absent
package model
