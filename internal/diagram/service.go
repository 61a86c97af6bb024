package diagram

import (
	"collaborative-diagram-editor/internal/access"
	"collaborative-diagram-editor/internal/domain"
	"collaborative-diagram-editor/internal/editor"
	"collaborative-diagram-editor/internal/errors"
	"collaborative-diagram-editor/internal/store"
	"collaborative-diagram-editor/internal/worker"
	"collaborative-diagram-editor/redis"
	"context"
	defError "errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

type Service interface {
	CreateDiagram(ctx context.Context, ident domain.Identity, name string) (*domain.Diagram, error)
	GetDiagram(ctx context.Context, ident domain.Identity, id string) (*DiagramShowResponse, error)
	ListAccessible(ctx context.Context, ident domain.Identity) ([]domain.EffectiveDiagram, error)
	SaveDiagram(ctx context.Context, ident domain.Identity, id string, name string, graph editor.Graph) error
	RenameDiagram(ctx context.Context, ident domain.Identity, id string, name string) error
	DeleteDiagram(ctx context.Context, ident domain.Identity, id string) error

	AddNode(ctx context.Context, ident domain.Identity, id string, label string, x, y float64) (*editor.Node, error)
	RemoveNode(ctx context.Context, ident domain.Identity, id string, nodeID string) error
	RenameNode(ctx context.Context, ident domain.Identity, id string, nodeID, label string) error
	AddEdge(ctx context.Context, ident domain.Identity, id string, source, target string) (*editor.Edge, error)
	RemoveEdge(ctx context.Context, ident domain.Identity, id string, edgeID string) error

	ShareDiagram(ctx context.Context, ident domain.Identity, id string, email, accessLevel string) (*domain.Grant, error)
	RevokeGrant(ctx context.Context, ident domain.Identity, id string, email string) error
	ListGrants(ctx context.Context, ident domain.Identity, id string) ([]domain.Grant, error)
	EffectiveRole(ctx context.Context, ident domain.Identity, id string) (domain.Role, error)
}

type DefaultService struct {
	repository DiagramRepository
	resolver   *access.Resolver
	cache      *redis.Cache
	notifier   store.Notifier
	workers    *worker.WorkerPool
}

func NewService(
	repository DiagramRepository,
	resolver *access.Resolver,
	cache *redis.Cache,
	notifier store.Notifier,
	workers *worker.WorkerPool,
) Service {
	return &DefaultService{
		repository: repository,
		resolver:   resolver,
		cache:      cache,
		notifier:   notifier,
		workers:    workers,
	}
}

// diagramsVersionKey invalidates every cached accessible list at once; a
// grant change affects other users' lists, so per-owner keys don't cut it
const diagramsVersionKey = "diagrams:version"

func (s *DefaultService) CreateDiagram(ctx context.Context, ident domain.Identity, name string) (*domain.Diagram, error) {
	if name == "" {
		name = "Untitled diagram"
	}

	d := &domain.Diagram{
		Name:    name,
		OwnerID: ident.ID,
		Graph:   editor.EmptyGraphJSON(),
	}
	if err := s.repository.Create(ctx, d); err != nil {
		return nil, err
	}

	s.afterDiagramWrite(d.ID)
	return d, nil
}

type DiagramShowResponse struct {
	domain.Diagram
	EffectiveRole domain.Role `json:"effective_role"`
}

func (s *DefaultService) GetDiagram(ctx context.Context, ident domain.Identity, id string) (*DiagramShowResponse, error) {
	d, err := s.repository.FindByID(ctx, id)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Diagram not found", err)
		}
		return nil, err
	}

	return &DiagramShowResponse{
		Diagram:       *d,
		EffectiveRole: s.effectiveRole(ctx, ident, d),
	}, nil
}

// EffectiveRole resolves the caller's role on one diagram: ownership wins
// outright, otherwise the grant-based resolver decides
func (s *DefaultService) EffectiveRole(ctx context.Context, ident domain.Identity, id string) (domain.Role, error) {
	d, err := s.repository.FindByID(ctx, id)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return "", errors.NotFound("Diagram not found", err)
		}
		return "", err
	}
	return s.effectiveRole(ctx, ident, d), nil
}

func (s *DefaultService) effectiveRole(ctx context.Context, ident domain.Identity, d *domain.Diagram) domain.Role {
	if d.OwnerID == ident.ID {
		return domain.RoleEditor
	}
	return s.resolver.Resolve(ctx, ident, d.ID)
}

// ListAccessible is the one-shot flavor of the live aggregation, for
// plain REST clients; results are cached under a version-keyed entry
func (s *DefaultService) ListAccessible(ctx context.Context, ident domain.Identity) ([]domain.EffectiveDiagram, error) {
	v := s.cache.GetVersion(ctx, diagramsVersionKey)
	cacheKey := fmt.Sprintf("accessible:u:%s:v:%d", ident.ID, v)

	var cached []domain.EffectiveDiagram
	found, _ := s.cache.Get(ctx, cacheKey, &cached)
	if found {
		return cached, nil
	}

	owned, err := s.repository.ListByOwner(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	shared := make(map[string]domain.Diagram)
	grantAccess := make(map[string]string)

	exact, err := s.repository.ListGrantsByEmail(ctx, ident.Email)
	if err != nil {
		return nil, err
	}
	lower, err := s.repository.ListGrantsByEmailLower(ctx, strings.ToLower(ident.Email))
	if err != nil {
		return nil, err
	}

	for _, g := range append(lower, exact...) {
		if g.Access != domain.AccessEdit && g.Access != domain.AccessView {
			continue
		}
		if _, ok := shared[g.DiagramID]; !ok {
			d, err := s.repository.FindByID(ctx, g.DiagramID)
			if err != nil {
				// orphaned grant or transient failure, skip the entry
				continue
			}
			shared[g.DiagramID] = *d
		}
		grantAccess[g.DiagramID] = g.Access
	}

	result := access.MergeAndSort(owned, shared, grantAccess)

	s.submit(func(ctx context.Context) error {
		s.cache.Set(ctx, cacheKey, result, 24*time.Hour)
		return nil
	})
	return result, nil
}

func (s *DefaultService) SaveDiagram(ctx context.Context, ident domain.Identity, id string, name string, graph editor.Graph) error {
	return s.mutate(ctx, ident, id, func(sess *editor.Session) error {
		if err := sess.Rename(name); err != nil {
			return err
		}
		return sess.ReplaceGraph(graph)
	})
}

func (s *DefaultService) RenameDiagram(ctx context.Context, ident domain.Identity, id string, name string) error {
	if name == "" {
		return errors.BadRequest("Name cannot be empty", nil)
	}
	return s.mutate(ctx, ident, id, func(sess *editor.Session) error {
		return sess.Rename(name)
	})
}

func (s *DefaultService) AddNode(ctx context.Context, ident domain.Identity, id string, label string, x, y float64) (*editor.Node, error) {
	var node *editor.Node
	err := s.mutate(ctx, ident, id, func(sess *editor.Session) error {
		var err error
		node, err = sess.AddNode(label, x, y)
		return err
	})
	return node, err
}

func (s *DefaultService) RemoveNode(ctx context.Context, ident domain.Identity, id string, nodeID string) error {
	return s.mutate(ctx, ident, id, func(sess *editor.Session) error {
		return sess.RemoveNode(nodeID)
	})
}

func (s *DefaultService) RenameNode(ctx context.Context, ident domain.Identity, id string, nodeID, label string) error {
	return s.mutate(ctx, ident, id, func(sess *editor.Session) error {
		return sess.RenameNode(nodeID, label)
	})
}

func (s *DefaultService) AddEdge(ctx context.Context, ident domain.Identity, id string, source, target string) (*editor.Edge, error) {
	var edge *editor.Edge
	err := s.mutate(ctx, ident, id, func(sess *editor.Session) error {
		var err error
		edge, err = sess.AddEdge(source, target)
		return err
	})
	return edge, err
}

func (s *DefaultService) RemoveEdge(ctx context.Context, ident domain.Identity, id string, edgeID string) error {
	return s.mutate(ctx, ident, id, func(sess *editor.Session) error {
		return sess.RemoveEdge(edgeID)
	})
}

// mutate opens an editing session with the caller's resolved role,
// applies fn, and persists on success. The session enforces role gating;
// write failure propagates so the handler can surface it.
func (s *DefaultService) mutate(ctx context.Context, ident domain.Identity, id string, fn func(*editor.Session) error) error {
	d, err := s.repository.FindByID(ctx, id)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("Diagram not found", err)
		}
		return err
	}

	sess, err := editor.NewSession(d, s.effectiveRole(ctx, ident, d), s.repository)
	if err != nil {
		return errors.UnprocessableEntity("Corrupt diagram payload", err)
	}

	if err := fn(sess); err != nil {
		if defError.Is(err, editor.ErrReadOnly) {
			return errors.Forbidden("Viewer can't modify the diagram!", err)
		}
		return errors.UnprocessableEntity(err.Error(), err)
	}

	if err := sess.Save(ctx); err != nil {
		return err
	}

	s.afterDiagramWrite(id)
	return nil
}

func (s *DefaultService) DeleteDiagram(ctx context.Context, ident domain.Identity, id string) error {
	d, err := s.repository.FindByID(ctx, id)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("Diagram not found", err)
		}
		return err
	}

	if d.OwnerID != ident.ID {
		return errors.Forbidden("Only owner can delete diagram", nil)
	}

	if err := s.repository.Delete(ctx, id); err != nil {
		return err
	}

	// grants are left behind on purpose; without a parent diagram the
	// per-document subscription yields nothing, so they stay invisible
	s.afterDiagramWrite(id)
	return nil
}

func (s *DefaultService) ShareDiagram(ctx context.Context, ident domain.Identity, id string, email, accessLevel string) (*domain.Grant, error) {
	if accessLevel != domain.AccessView && accessLevel != domain.AccessEdit {
		return nil, errors.BadRequest("Access must be view or edit", nil)
	}
	if email == "" {
		return nil, errors.BadRequest("Email cannot be empty", nil)
	}

	role, err := s.EffectiveRole(ctx, ident, id)
	if err != nil {
		return nil, err
	}
	if role != domain.RoleEditor {
		return nil, errors.Forbidden("Viewer can't share the diagram!", nil)
	}

	grant := &domain.Grant{
		DiagramID:  id,
		Email:      email,
		EmailLower: strings.ToLower(email),
		Access:     accessLevel,
	}
	if err := s.repository.UpsertGrant(ctx, grant); err != nil {
		return nil, err
	}

	s.afterGrantWrite()
	return grant, nil
}

func (s *DefaultService) RevokeGrant(ctx context.Context, ident domain.Identity, id string, email string) error {
	role, err := s.EffectiveRole(ctx, ident, id)
	if err != nil {
		return err
	}
	if role != domain.RoleEditor {
		return errors.Forbidden("Viewer can't manage sharing!", nil)
	}

	if err := s.repository.DeleteGrant(ctx, id, email); err != nil {
		return err
	}

	s.afterGrantWrite()
	return nil
}

func (s *DefaultService) ListGrants(ctx context.Context, ident domain.Identity, id string) ([]domain.Grant, error) {
	role, err := s.EffectiveRole(ctx, ident, id)
	if err != nil {
		return nil, err
	}
	if role != domain.RoleEditor {
		return nil, errors.Forbidden("Viewer can't list sharing!", nil)
	}

	return s.repository.ListGrantsByDiagram(ctx, id)
}

// afterDiagramWrite invalidates cached lists and notifies live
// subscriptions; delivery is best-effort and must not delay the request
func (s *DefaultService) afterDiagramWrite(id string) {
	s.cache.IncrementVersion(context.Background(), diagramsVersionKey)

	s.submit(func(ctx context.Context) error {
		if err := s.notifier.Publish(ctx, store.TopicDiagrams); err != nil {
			return err
		}
		return s.notifier.Publish(ctx, store.DiagramTopic(id))
	})
}

func (s *DefaultService) afterGrantWrite() {
	s.cache.IncrementVersion(context.Background(), diagramsVersionKey)

	s.submit(func(ctx context.Context) error {
		return s.notifier.Publish(ctx, store.TopicGrants)
	})
}

func (s *DefaultService) submit(t worker.Task) {
	if s.workers != nil {
		s.workers.Submit(t)
		return
	}
	// no pool wired (tests); run inline
	_ = t(context.Background())
}
