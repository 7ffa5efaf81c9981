package api

import (
	"container/list"
	"sync"

	"github.com/google/uuid"

	"quadrantd/domain"
)

const undoCapacity = 8

// undoBuffer holds recently deleted tasks keyed by an opaque token, so a
// delete can be reversed. Capacity is small and access-ordered: taking or
// adding an entry marks it most recent, and the least recently touched entry
// is evicted first.
type undoBuffer struct {
	mu      sync.Mutex
	order   *list.List // front = least recently used
	entries map[string]*list.Element
}

type undoEntry struct {
	token string
	task  domain.Task
}

func newUndoBuffer() *undoBuffer {
	return &undoBuffer{
		order:   list.New(),
		entries: map[string]*list.Element{},
	}
}

// Add stores a deleted task and returns its undo token.
func (b *undoBuffer) Add(task domain.Task) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := uuid.NewString()
	elem := b.order.PushBack(&undoEntry{token: token, task: task})
	b.entries[token] = elem

	for len(b.entries) > undoCapacity {
		oldest := b.order.Front()
		b.order.Remove(oldest)
		delete(b.entries, oldest.Value.(*undoEntry).token)
	}
	return token
}

// Take returns the task for a token. The entry stays buffered but becomes
// most recent, so repeating an undo (restore, delete again, undo) works as
// long as the entry has not been evicted.
func (b *undoBuffer) Take(token string) (domain.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.entries[token]
	if !ok {
		return domain.Task{}, false
	}
	b.order.MoveToBack(elem)
	return elem.Value.(*undoEntry).task, true
}

// Len reports the number of buffered entries.
func (b *undoBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
