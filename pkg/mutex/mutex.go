package mutex

import "sync"

// KeyedMutex serializes critical sections per principal id. Broadcast
// session mutations go through it so two concurrent toggles for the same
// principal cannot interleave.
//
// Mutexes live for the process lifetime; the key space is bounded by the
// number of active users, which stays small.
type KeyedMutex struct {
	muMap sync.Map
}

func (km *KeyedMutex) Lock(key int64) {
	mu, _ := km.muMap.LoadOrStore(key, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
}

func (km *KeyedMutex) Unlock(key int64) {
	mu, ok := km.muMap.Load(key)
	if ok {
		mu.(*sync.Mutex).Unlock()
	}
}
