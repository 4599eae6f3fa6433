// Package event defines the admitted room event record and the typed
// accessors the indexer and power resolver read it through.
//
// This package is the foundational layer: every other internal package
// imports it and it imports nothing internal.
//
// Key design constraints:
//   - Idx is assigned locally at admission, dense and strictly increasing,
//     never zero and never reused
//   - Content stays raw JSON; reads go through Content, whose accessors
//     return (value, ok) instead of failing on absent or mistyped members
//   - Content-derived ids are computed over canonical JSON (sorted keys,
//     NFC strings, no floats)
package event
