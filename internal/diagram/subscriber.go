package diagram

import (
	"collaborative-diagram-editor/internal/domain"
	"collaborative-diagram-editor/internal/store"
	"context"
	"errors"
	"log"

	"gorm.io/gorm"
)

// Subscriber adapts the repository into the live snapshot subscriptions
// the aggregator consumes. Each subscription delivers the current query
// result immediately, then re-runs the query and delivers a fresh full
// snapshot on every matching change event. It implements access.Source.
type Subscriber struct {
	repo     DiagramRepository
	notifier store.Notifier
}

func NewSubscriber(repo DiagramRepository, notifier store.Notifier) *Subscriber {
	return &Subscriber{repo: repo, notifier: notifier}
}

// SubscribeOwnerDiagrams follows the diagrams owned by one user, ordered
// by update time descending
func (s *Subscriber) SubscribeOwnerDiagrams(ownerID string, fn func([]domain.Diagram)) store.UnsubscribeFunc {
	deliver := func() {
		diagrams, err := s.repo.ListByOwner(context.Background(), ownerID)
		if err != nil {
			// keep the last delivered state on transient failure
			log.Printf("[STORE] owner diagram query failed: %v", err)
			return
		}
		fn(diagrams)
	}

	deliver()
	return s.notifier.Subscribe(store.TopicDiagrams, deliver)
}

// SubscribeDiagram follows a single document; a deleted diagram is
// delivered as nil
func (s *Subscriber) SubscribeDiagram(id string, fn func(*domain.Diagram)) store.UnsubscribeFunc {
	deliver := func() {
		d, err := s.repo.FindByID(context.Background(), id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fn(nil)
			return
		}
		if err != nil {
			log.Printf("[STORE] diagram %s fetch failed: %v", id, err)
			return
		}
		fn(d)
	}

	deliver()
	return s.notifier.Subscribe(store.DiagramTopic(id), deliver)
}

// SubscribeGrantsByEmail follows the cross-diagram grant index by exact
// email match
func (s *Subscriber) SubscribeGrantsByEmail(email string, fn func([]domain.Grant)) store.UnsubscribeFunc {
	deliver := func() {
		grants, err := s.repo.ListGrantsByEmail(context.Background(), email)
		if err != nil {
			log.Printf("[STORE] grant query failed: %v", err)
			return
		}
		fn(grants)
	}

	deliver()
	return s.notifier.Subscribe(store.TopicGrants, deliver)
}

// SubscribeGrantsByEmailLower is the lowercased twin of
// SubscribeGrantsByEmail; the store can't match case-insensitively so the
// two queries stay separate
func (s *Subscriber) SubscribeGrantsByEmailLower(emailLower string, fn func([]domain.Grant)) store.UnsubscribeFunc {
	deliver := func() {
		grants, err := s.repo.ListGrantsByEmailLower(context.Background(), emailLower)
		if err != nil {
			log.Printf("[STORE] grant query failed: %v", err)
			return
		}
		fn(grants)
	}

	deliver()
	return s.notifier.Subscribe(store.TopicGrants, deliver)
}

// FetchGrants is the one-shot bootstrap read of both grant indexes
func (s *Subscriber) FetchGrants(ctx context.Context, email, emailLower string) ([]domain.Grant, error) {
	exact, err := s.repo.ListGrantsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	lower, err := s.repo.ListGrantsByEmailLower(ctx, emailLower)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(exact))
	merged := make([]domain.Grant, 0, len(exact)+len(lower))
	for _, g := range exact {
		seen[g.DiagramID+"/"+g.Email] = true
		merged = append(merged, g)
	}
	for _, g := range lower {
		if !seen[g.DiagramID+"/"+g.Email] {
			merged = append(merged, g)
		}
	}
	return merged, nil
}

// FetchDiagram is the one-shot bootstrap read of a granted diagram;
// missing documents come back as nil
func (s *Subscriber) FetchDiagram(ctx context.Context, id string) (*domain.Diagram, error) {
	d, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return d, err
}
