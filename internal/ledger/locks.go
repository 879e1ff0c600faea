package ledger

import "sync"

// lockTable hands out one mutex per account id. In-process writers
// serialize on these before entering their read-compute-CAS cycle, so
// the version check only trips on out-of-process contention. The table
// never shrinks; accounts are few per process lifetime.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (lt *lockTable) acquire(id string) *sync.Mutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	mu, ok := lt.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		lt.locks[id] = mu
	}
	return mu
}
