package bank

import "sync"

// ChangeHub fans out account-change notifications to long-poll waiters.
// Publishing never blocks: each subscriber channel has capacity one and a
// pending signal collapses with later ones.
type ChangeHub struct {
	mu   sync.Mutex
	subs map[int64]map[chan struct{}]struct{}
}

func NewChangeHub() *ChangeHub {
	return &ChangeHub{subs: make(map[int64]map[chan struct{}]struct{})}
}

// Subscribe registers interest in changes to an account. The returned
// cancel func must be called when the waiter is done; it is safe to call
// after a signal was received.
func (h *ChangeHub) Subscribe(accountID int64) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.subs[accountID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[accountID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[accountID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, accountID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish wakes every waiter subscribed to the account.
func (h *ChangeHub) Publish(accountID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[accountID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
