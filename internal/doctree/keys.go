package doctree

import (
	"sync"

	"github.com/google/uuid"
)

// Keyer hands out identity keys for nodes of one editing session. A node keeps its key for the
// life of the Keyer, so repeated renders of the same tree reconcile correctly.
type Keyer struct {
	mu   sync.Mutex
	keys map[*Node]string
}

func NewKeyer() *Keyer {
	return &Keyer{keys: make(map[*Node]string)}
}

func (k *Keyer) Key(n *Node) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if key, ok := k.keys[n]; ok {
		return key
	}
	key := uuid.NewString()
	k.keys[n] = key
	return key
}

// Forget drops keys of nodes that are no longer reachable from root.
func (k *Keyer) Forget(root *Node) {
	live := make(map[*Node]struct{})
	root.Walk(func(n *Node) bool {
		live[n] = struct{}{}
		return true
	})
	k.mu.Lock()
	defer k.mu.Unlock()
	for n := range k.keys {
		if _, ok := live[n]; !ok {
			delete(k.keys, n)
		}
	}
}
