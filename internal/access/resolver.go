package access

import (
	"collaborative-diagram-editor/internal/domain"
	"context"
	"log"
	"strings"
)

// GrantSource looks up a single permission grant. Implementations return
// (nil, nil) when no grant exists; an error means the lookup itself failed.
type GrantSource interface {
	FindGrant(ctx context.Context, diagramID, email string) (*domain.Grant, error)
	FindGrantByLower(ctx context.Context, diagramID, emailLower string) (*domain.Grant, error)
}

// Resolver computes the effective role a user holds on one diagram from
// its permission grants. Ownership is not its concern; callers short-circuit
// owners to editor before asking.
type Resolver struct {
	grants GrantSource
}

func NewResolver(grants GrantSource) *Resolver {
	return &Resolver{grants: grants}
}

// Resolve returns the role granted to ident on diagramID. The grant is
// matched by exact email first, then by lowercased email (the store has
// no case-insensitive index, so the two are independent lookups). With
// no grant, or when the lookup fails, the identity's account-default
// role is returned; a transient permission check failure must never
// block the caller.
func (r *Resolver) Resolve(ctx context.Context, ident domain.Identity, diagramID string) domain.Role {
	if ident.Email == "" {
		// identity not loaded yet
		return ident.DefaultRole
	}

	grant, err := r.grants.FindGrant(ctx, diagramID, ident.Email)
	if err != nil {
		log.Printf("[ACCESS] grant lookup failed for diagram %s: %v", diagramID, err)
		return ident.DefaultRole
	}

	if grant == nil {
		grant, err = r.grants.FindGrantByLower(ctx, diagramID, strings.ToLower(ident.Email))
		if err != nil {
			log.Printf("[ACCESS] grant lookup failed for diagram %s: %v", diagramID, err)
			return ident.DefaultRole
		}
	}

	if grant != nil {
		switch grant.Access {
		case domain.AccessEdit:
			return domain.RoleEditor
		case domain.AccessView:
			return domain.RoleViewer
		}
	}

	return ident.DefaultRole
}
