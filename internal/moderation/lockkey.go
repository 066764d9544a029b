package moderation

import (
	"crypto/sha256"
	"encoding/binary"
)

// ModeratorLockKey maps a moderator name to a pg_advisory_xact_lock key: the
// first 8 bytes of SHA-256(name) XORed with base. Two names that collide only
// serialise each other's claims; assignment stays correct because claiming
// relies on SKIP LOCKED and conditional writes, not on this lock.
func ModeratorLockKey(base int64, moderator string) int64 {
	sum := sha256.Sum256([]byte(moderator))
	return base ^ int64(binary.BigEndian.Uint64(sum[:8]))
}
