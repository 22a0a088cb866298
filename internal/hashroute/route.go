package hashroute

import (
	"hash/fnv"
	"strconv"
	"strings"
)

const PartitionCount = 25

// CanonicalizeKey normalizes incoming partition keys before hashing.
func CanonicalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func PartitionForKey(key string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(CanonicalizeKey(key)))
	return int(h.Sum64() % PartitionCount)
}

// PartitionForRecord routes every event of one record to the same partition.
func PartitionForRecord(recordID int64) int {
	return PartitionForKey(RecordKey(recordID))
}

// RecordKey is the broker message key for a record.
func RecordKey(recordID int64) string {
	return strconv.FormatInt(recordID, 10)
}
