// Package model provides the domain types shared by every rover package.
//
// This package contains type definitions and small pure helpers only. All
// other internal packages import model; model imports nothing internal.
//
// Key conventions:
//   - Timestamps are wall-clock and second-granular (the store keeps unix seconds)
//   - Ban subjects and usernames are compared after NormalizeSubject
//   - All JSON tags use snake_case
package model
