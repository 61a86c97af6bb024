package access

import (
	"collaborative-diagram-editor/internal/domain"
	"collaborative-diagram-editor/internal/store"
	"context"
	"sort"
	"strings"
	"sync"
)

// Source is the slice of the diagram store the aggregator consumes: live
// snapshot subscriptions plus the one-shot reads used for bootstrap.
// Every subscription fires once immediately with the current snapshot and
// again after every relevant change.
type Source interface {
	SubscribeOwnerDiagrams(ownerID string, fn func([]domain.Diagram)) store.UnsubscribeFunc
	SubscribeDiagram(id string, fn func(*domain.Diagram)) store.UnsubscribeFunc
	SubscribeGrantsByEmail(email string, fn func([]domain.Grant)) store.UnsubscribeFunc
	SubscribeGrantsByEmailLower(emailLower string, fn func([]domain.Grant)) store.UnsubscribeFunc

	FetchGrants(ctx context.Context, email, emailLower string) ([]domain.Grant, error)
	FetchDiagram(ctx context.Context, id string) (*domain.Diagram, error)
}

// aggregator keeps the live union of diagrams the user owns and diagrams
// shared with them via grants, one instance per subscribing caller.
type aggregator struct {
	src  Source
	user domain.Identity
	cb   func([]domain.EffectiveDiagram)

	mu     sync.Mutex
	closed bool

	owned       []domain.Diagram
	shared      map[string]domain.Diagram
	grantsExact map[string]string // diagram id -> access, from the exact-email query
	grantsLower map[string]string // same, from the lowercased-email query
	sharedSubs  map[string]store.UnsubscribeFunc
	baseSubs    []store.UnsubscribeFunc

	cbMu     sync.Mutex // serializes deliveries to cb
	teardown sync.Once
}

// SubscribeAccessible delivers the deduplicated, role-annotated, recency-
// sorted list of diagrams visible to user, re-delivering the full list
// whenever any underlying source changes. The returned teardown releases
// every subscription it holds and is safe to call repeatedly.
func SubscribeAccessible(src Source, user domain.Identity, cb func([]domain.EffectiveDiagram)) store.UnsubscribeFunc {
	a := &aggregator{
		src:         src,
		user:        user,
		cb:          cb,
		shared:      make(map[string]domain.Diagram),
		grantsExact: make(map[string]string),
		grantsLower: make(map[string]string),
		sharedSubs:  make(map[string]store.UnsubscribeFunc),
	}

	a.baseSubs = append(a.baseSubs,
		src.SubscribeOwnerDiagrams(user.ID, a.onOwned),
		src.SubscribeGrantsByEmail(user.Email, func(gs []domain.Grant) {
			a.onGrants(gs, false)
		}),
		src.SubscribeGrantsByEmailLower(strings.ToLower(user.Email), func(gs []domain.Grant) {
			a.onGrants(gs, true)
		}),
	)

	// one-shot fetch so the first result isn't empty while listeners spin up
	go a.bootstrap()

	return a.close
}

func (a *aggregator) onOwned(docs []domain.Diagram) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.owned = docs
	list := a.merged()
	a.mu.Unlock()

	a.deliver(list)
}

// onGrants rebuilds one of the two grant maps from a fresh snapshot and
// reconciles the per-diagram subscription set against their union.
func (a *aggregator) onGrants(grants []domain.Grant, lower bool) {
	byID := make(map[string]string, len(grants))
	for _, g := range grants {
		if g.Access == domain.AccessEdit || g.Access == domain.AccessView {
			byID[g.DiagramID] = g.Access
		}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if lower {
		a.grantsLower = byID
	} else {
		a.grantsExact = byID
	}

	union := a.grantUnion()

	// stop subscriptions for revoked diagrams
	var removed []store.UnsubscribeFunc
	for id, unsub := range a.sharedSubs {
		if _, ok := union[id]; !ok {
			removed = append(removed, unsub)
			delete(a.sharedSubs, id)
		}
	}

	// sweep shared entries by the union itself, not via sharedSubs:
	// bootstrap seeds a.shared before any subscription exists, and such an
	// entry must still drop out once neither grant snapshot covers it
	for id := range a.shared {
		if _, ok := union[id]; !ok {
			delete(a.shared, id)
		}
	}

	// reserve slots for newly granted diagrams; the map is only ever
	// mutated here so an identical snapshot can't double-subscribe
	var added []string
	for id := range union {
		if _, ok := a.sharedSubs[id]; !ok {
			a.sharedSubs[id] = nil
			added = append(added, id)
		}
	}

	list := a.merged()
	a.mu.Unlock()

	for _, unsub := range removed {
		if unsub != nil {
			unsub()
		}
	}

	// deliver the post-removal state before opening new subscriptions;
	// each new subscription emits its own fresher snapshot right away
	a.deliver(list)

	for _, id := range added {
		diagramID := id
		unsub := a.src.SubscribeDiagram(diagramID, func(d *domain.Diagram) {
			a.onShared(diagramID, d)
		})

		a.mu.Lock()
		_, stillWanted := a.sharedSubs[diagramID]
		if a.closed || !stillWanted {
			a.mu.Unlock()
			unsub()
			continue
		}
		a.sharedSubs[diagramID] = unsub
		a.mu.Unlock()
	}
}

func (a *aggregator) onShared(id string, d *domain.Diagram) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if _, tracked := a.sharedSubs[id]; !tracked {
		// revoked while the snapshot was in flight
		a.mu.Unlock()
		return
	}
	if d == nil {
		delete(a.shared, id)
	} else {
		a.shared[id] = *d
	}
	list := a.merged()
	a.mu.Unlock()

	a.deliver(list)
}

// bootstrap fetches current grants and their parent diagrams once so the
// caller sees data before the live listeners settle. Failures are
// swallowed; the listeners are the authoritative path.
func (a *aggregator) bootstrap() {
	ctx := context.Background()

	grants, err := a.src.FetchGrants(ctx, a.user.Email, strings.ToLower(a.user.Email))
	if err != nil {
		return
	}

	type fetched struct {
		d      domain.Diagram
		access string
	}
	var docs []fetched
	for _, g := range grants {
		if g.Access != domain.AccessEdit && g.Access != domain.AccessView {
			continue
		}
		d, err := a.src.FetchDiagram(ctx, g.DiagramID)
		if err != nil || d == nil {
			continue
		}
		docs = append(docs, fetched{d: *d, access: g.Access})
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	for _, f := range docs {
		if _, ok := a.shared[f.d.ID]; !ok {
			a.shared[f.d.ID] = f.d
		}
		if _, ok := a.grantsLower[f.d.ID]; !ok {
			a.grantsLower[f.d.ID] = f.access
		}
	}
	list := a.merged()
	a.mu.Unlock()

	a.deliver(list)
}

// grantUnion merges the two grant snapshots; the exact-email record wins
// when both queries returned one for the same diagram. Callers hold a.mu.
func (a *aggregator) grantUnion() map[string]string {
	union := make(map[string]string, len(a.grantsExact)+len(a.grantsLower))
	for id, access := range a.grantsLower {
		union[id] = access
	}
	for id, access := range a.grantsExact {
		union[id] = access
	}
	return union
}

// merged recomputes the full result set. Callers hold a.mu.
func (a *aggregator) merged() []domain.EffectiveDiagram {
	return MergeAndSort(a.owned, a.shared, a.grantUnion())
}

func (a *aggregator) deliver(list []domain.EffectiveDiagram) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.cb(list)
}

func (a *aggregator) close() {
	a.teardown.Do(func() {
		a.mu.Lock()
		a.closed = true
		base := a.baseSubs
		a.baseSubs = nil
		subs := a.sharedSubs
		a.sharedSubs = make(map[string]store.UnsubscribeFunc)
		a.mu.Unlock()

		for _, unsub := range base {
			if unsub != nil {
				unsub()
			}
		}
		for _, unsub := range subs {
			if unsub != nil {
				unsub()
			}
		}
	})
}

// MergeAndSort folds owned and shared diagrams into one id-keyed set.
// Owner entries are applied last so they win over a shared entry with the
// same id and always carry the editor role; shared entries map an edit
// grant to editor and anything else to viewer. Output is ordered by
// update time, newest first, with missing timestamps sorting oldest.
func MergeAndSort(owned []domain.Diagram, shared map[string]domain.Diagram, access map[string]string) []domain.EffectiveDiagram {
	merged := make(map[string]domain.EffectiveDiagram, len(owned)+len(shared))

	for id, d := range shared {
		role := domain.RoleViewer
		if access[id] == domain.AccessEdit {
			role = domain.RoleEditor
		}
		merged[id] = domain.EffectiveDiagram{Diagram: d, EffectiveRole: role}
	}
	for _, d := range owned {
		merged[d.ID] = domain.EffectiveDiagram{Diagram: d, EffectiveRole: domain.RoleEditor}
	}

	list := make([]domain.EffectiveDiagram, 0, len(merged))
	for _, d := range merged {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list
}
