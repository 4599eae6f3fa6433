// Package power resolves authorization levels from a room's power-levels
// state.
//
// A View wraps the content of the room's current m.room.power_levels event,
// or nothing at all when the room has none yet, together with the room
// creator. Every accessor degrades to a documented default when a member is
// absent or has the wrong shape; no accessor returns an error or panics.
//
// Levels are JSON integers. Strings holding a base-10 integer ("50") are
// accepted as well, since older room versions allowed them.
package power
