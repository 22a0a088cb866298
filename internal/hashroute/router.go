package hashroute

import "sync"

// Locks serializes work per record id without a global lock. Records that share a
// partition share a mutex.
type Locks struct {
	mu [PartitionCount]sync.Mutex
}

func NewLocks() *Locks {
	return &Locks{}
}

func (l *Locks) Lock(recordID int64) (unlock func()) {
	m := &l.mu[PartitionForRecord(recordID)]
	m.Lock()
	return m.Unlock
}
