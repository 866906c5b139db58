package types

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

// identityBucketLayout truncates emission timestamps to a UTC calendar day
// for identity purposes. Sessions are short-lived, so the same logical
// message surfacing in successive snapshots (minutes apart) hashes to the
// same id, while same-content messages from different days stay distinct.
const identityBucketLayout = "2006-01-02"

// identityBytes is the truncated hash width: 8 bytes, 16 hex characters.
const identityBytes = 8

// MessageID derives the content-addressed identifier for an emission.
// Identity is (type, timestamp bucket, content); dedup correctness depends on
// content, not on a precise timestamp.
func MessageID(msgType MessageType, ts time.Time, content string) string {
	h := blake3.New()
	h.Write([]byte(msgType))
	h.Write([]byte{0})
	h.Write([]byte(ts.UTC().Format(identityBucketLayout)))
	h.Write([]byte{0})
	h.Write([]byte(content))

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:identityBytes])
}
