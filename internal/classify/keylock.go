package classify

import (
	"hash/fnv"
	"sync"
)

// keyLock serializes work per session key by hashing keys onto a fixed set
// of mutexes. Unrelated keys rarely share a stripe and never a global lock.
type keyLock struct {
	stripes []sync.Mutex
}

func newKeyLock(n int) *keyLock {
	if n <= 0 {
		n = 64
	}
	return &keyLock{stripes: make([]sync.Mutex, n)}
}

func (k *keyLock) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &k.stripes[h.Sum32()%uint32(len(k.stripes))]
}

// Lock acquires the stripe for key and returns its unlock function.
func (k *keyLock) Lock(key string) func() {
	mu := k.stripe(key)
	mu.Lock()
	return mu.Unlock
}
