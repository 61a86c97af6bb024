package diagram

import (
	"collaborative-diagram-editor/internal/domain"
	"collaborative-diagram-editor/internal/store"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory DiagramRepository for subscriber tests
type fakeRepo struct {
	mu       sync.Mutex
	diagrams map[string]domain.Diagram
	grants   []domain.Grant
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{diagrams: make(map[string]domain.Diagram)}
}

func (f *fakeRepo) putDiagram(d domain.Diagram) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diagrams[d.ID] = d
}

func (f *fakeRepo) dropDiagram(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.diagrams, id)
}

func (f *fakeRepo) putGrant(g domain.Grant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, g)
}

func (f *fakeRepo) Create(ctx context.Context, d *domain.Diagram) error { return nil }
func (f *fakeRepo) Save(ctx context.Context, id string, name string, graph json.RawMessage) error {
	return nil
}
func (f *fakeRepo) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeRepo) FindByID(ctx context.Context, id string) (*domain.Diagram, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.diagrams[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &d, nil
}

func (f *fakeRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Diagram, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Diagram
	for _, d := range f.diagrams {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpsertGrant(ctx context.Context, g *domain.Grant) error       { return nil }
func (f *fakeRepo) DeleteGrant(ctx context.Context, diagramID, email string) error { return nil }
func (f *fakeRepo) FindGrant(ctx context.Context, diagramID, email string) (*domain.Grant, error) {
	return nil, nil
}
func (f *fakeRepo) FindGrantByLower(ctx context.Context, diagramID, emailLower string) (*domain.Grant, error) {
	return nil, nil
}

func (f *fakeRepo) ListGrantsByEmail(ctx context.Context, email string) ([]domain.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Grant
	for _, g := range f.grants {
		if g.Email == email {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListGrantsByEmailLower(ctx context.Context, emailLower string) ([]domain.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Grant
	for _, g := range f.grants {
		if g.EmailLower == emailLower {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListGrantsByDiagram(ctx context.Context, diagramID string) ([]domain.Grant, error) {
	return nil, nil
}

func TestSubscribeOwnerDiagrams_DeliversImmediatelyAndOnEvent(t *testing.T) {
	repo := newFakeRepo()
	notifier := store.NewLocalNotifier()
	sub := NewSubscriber(repo, notifier)

	repo.putDiagram(domain.Diagram{ID: "d1", OwnerID: "u1"})

	var snapshots [][]domain.Diagram
	unsub := sub.SubscribeOwnerDiagrams("u1", func(ds []domain.Diagram) {
		snapshots = append(snapshots, ds)
	})
	defer unsub()

	assert.Len(t, snapshots, 1, "initial snapshot arrives before any event")
	assert.Len(t, snapshots[0], 1)

	repo.putDiagram(domain.Diagram{ID: "d2", OwnerID: "u1"})
	notifier.Publish(context.Background(), store.TopicDiagrams)

	assert.Len(t, snapshots, 2)
	assert.Len(t, snapshots[1], 2, "each delivery is a full snapshot, not a delta")
}

func TestSubscribeDiagram_DeletedDocumentDeliversNil(t *testing.T) {
	repo := newFakeRepo()
	notifier := store.NewLocalNotifier()
	sub := NewSubscriber(repo, notifier)

	repo.putDiagram(domain.Diagram{ID: "d1", OwnerID: "u1"})

	var snapshots []*domain.Diagram
	unsub := sub.SubscribeDiagram("d1", func(d *domain.Diagram) {
		snapshots = append(snapshots, d)
	})
	defer unsub()

	assert.Len(t, snapshots, 1)
	assert.NotNil(t, snapshots[0])

	repo.dropDiagram("d1")
	notifier.Publish(context.Background(), store.DiagramTopic("d1"))

	assert.Len(t, snapshots, 2)
	assert.Nil(t, snapshots[1])
}

func TestSubscribeDiagram_UnsubscribeStopsDeliveries(t *testing.T) {
	repo := newFakeRepo()
	notifier := store.NewLocalNotifier()
	sub := NewSubscriber(repo, notifier)

	repo.putDiagram(domain.Diagram{ID: "d1", OwnerID: "u1"})

	var count int
	unsub := sub.SubscribeDiagram("d1", func(d *domain.Diagram) { count++ })
	unsub()

	notifier.Publish(context.Background(), store.DiagramTopic("d1"))

	assert.Equal(t, 1, count, "only the initial delivery happened")
}

func TestSubscribeGrants_FiresOnGrantTopic(t *testing.T) {
	repo := newFakeRepo()
	notifier := store.NewLocalNotifier()
	sub := NewSubscriber(repo, notifier)

	var snapshots [][]domain.Grant
	unsub := sub.SubscribeGrantsByEmail("alice@example.com", func(gs []domain.Grant) {
		snapshots = append(snapshots, gs)
	})
	defer unsub()

	assert.Len(t, snapshots, 1)
	assert.Empty(t, snapshots[0])

	repo.putGrant(domain.Grant{DiagramID: "d1", Email: "alice@example.com", Access: domain.AccessEdit})
	notifier.Publish(context.Background(), store.TopicGrants)

	assert.Len(t, snapshots, 2)
	assert.Len(t, snapshots[1], 1)
}

func TestFetchGrants_MergesBothIndexesWithoutDuplicates(t *testing.T) {
	repo := newFakeRepo()
	sub := NewSubscriber(repo, store.NewLocalNotifier())

	// same record is visible through both indexes
	repo.putGrant(domain.Grant{DiagramID: "d1", Email: "alice@example.com", EmailLower: "alice@example.com", Access: domain.AccessView})
	// exact-only record with preserved casing
	repo.putGrant(domain.Grant{DiagramID: "d2", Email: "Alice@Example.com", EmailLower: "alice@example.com", Access: domain.AccessEdit})

	merged, err := sub.FetchGrants(context.Background(), "alice@example.com", "alice@example.com")

	assert.NoError(t, err)
	assert.Len(t, merged, 2)
}

func TestFetchDiagram_MissingComesBackNil(t *testing.T) {
	repo := newFakeRepo()
	sub := NewSubscriber(repo, store.NewLocalNotifier())

	d, err := sub.FetchDiagram(context.Background(), "ghost")

	assert.NoError(t, err)
	assert.Nil(t, d)
}
