// Package changeset buffers row-level create, update and delete operations
// accumulated during one edit session so they can be submitted to the
// upstream store as a single batch.
package changeset

// Keyed is implemented by entities tracked in a change set. Transient
// reports whether the entity's key was minted client-side and is not yet
// known upstream.
type Keyed interface {
	Key() string
	Transient() bool
}

// Set tracks which entities were added, edited and deleted since the last
// successful batch save. The three collections stay disjoint and preserve
// insertion order.
type Set[T Keyed] struct {
	newItems  []T
	updates   []T
	deletions []string
}

// NewItems returns the entities created during this session, in insertion
// order. The returned slice is shared; callers must not mutate it.
func (s *Set[T]) NewItems() []T { return s.newItems }

// Updates returns the persisted entities edited during this session.
func (s *Set[T]) Updates() []T { return s.updates }

// Deletions returns the upstream ids of persisted entities deleted during
// this session.
func (s *Set[T]) Deletions() []string { return s.deletions }

// RecordAdd registers a freshly created entity. The entity must carry a
// transient key.
func (s *Set[T]) RecordAdd(e T) {
	s.newItems = append(s.newItems, e)
}

// RecordEdit marks a persisted entity as dirty. Membership is add-once:
// repeated edits of the same entity do not duplicate it, and transient
// entities are already covered by NewItems. The caller keeps mutating the
// entity in place; the set only tracks membership.
func (s *Set[T]) RecordEdit(e T) {
	if e.Transient() {
		s.replaceNew(e)
		return
	}
	for i, u := range s.updates {
		if u.Key() == e.Key() {
			s.updates[i] = e
			return
		}
	}
	s.updates = append(s.updates, e)
}

// RecordDelete removes a transient entity from the pending additions, or
// queues a persisted entity's id for upstream deletion. A deleted persisted
// entity also drops out of the updates list so the batch stays disjoint.
func (s *Set[T]) RecordDelete(e T) {
	if e.Transient() {
		s.newItems = removeByKey(s.newItems, e.Key())
		return
	}
	s.updates = removeByKey(s.updates, e.Key())
	s.deletions = append(s.deletions, e.Key())
}

// Clear resets the set after a successful batch save. A failed save must
// not clear: the buffered operations are the retry payload.
func (s *Set[T]) Clear() {
	s.newItems = nil
	s.updates = nil
	s.deletions = nil
}

// Empty reports whether there is nothing to submit.
func (s *Set[T]) Empty() bool {
	return len(s.newItems) == 0 && len(s.updates) == 0 && len(s.deletions) == 0
}

// Snapshot is the serializable form of a Set, used to park a set inside a
// stored edit session between requests.
type Snapshot[T Keyed] struct {
	NewItems  []T      `json:"newItems"`
	Updates   []T      `json:"updates"`
	Deletions []string `json:"deletions"`
}

// Snapshot captures the set's current contents.
func (s *Set[T]) Snapshot() Snapshot[T] {
	return Snapshot[T]{
		NewItems:  s.newItems,
		Updates:   s.updates,
		Deletions: s.deletions,
	}
}

// Restore rebuilds a set from a stored snapshot.
func Restore[T Keyed](snap Snapshot[T]) *Set[T] {
	return &Set[T]{
		newItems:  snap.NewItems,
		updates:   snap.Updates,
		deletions: snap.Deletions,
	}
}

func (s *Set[T]) replaceNew(e T) {
	for i, n := range s.newItems {
		if n.Key() == e.Key() {
			s.newItems[i] = e
			return
		}
	}
}

func removeByKey[T Keyed](items []T, key string) []T {
	for i, it := range items {
		if it.Key() == key {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}
