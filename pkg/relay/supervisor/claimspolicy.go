package supervisor

import (
	"context"
	"sync"

	"github.com/corallang/voicerelay/auth"
	"github.com/corallang/voicerelay/pkg/relay/token"
)

// PermSessionInterrupt names the permission for the "session.interrupt"
// control message. No code path checks it: relaycore forwards every
// interrupt without an authorization check.
const PermSessionInterrupt auth.Permission = "voice:session:interrupt"

// PermSessionAdmin gates the aggregate stats endpoint.
const PermSessionAdmin auth.Permission = "voice:session:admin"

// TokenClaimsPolicy turns a verified token's Permissions claim into an
// auth.Policy decision by registering a per-learner role, on first sight,
// against an underlying auth.RBACPolicy and delegating to it. It lets the
// relay reuse the RBAC engine's role/assignment bookkeeping without
// requiring an operator to pre-provision roles for every learner.
type TokenClaimsPolicy struct {
	rbac *auth.RBACPolicy

	mu   sync.Mutex
	seen map[string]bool
}

// NewTokenClaimsPolicy creates a TokenClaimsPolicy backed by a fresh
// auth.RBACPolicy named name.
func NewTokenClaimsPolicy(name string) *TokenClaimsPolicy {
	return &TokenClaimsPolicy{
		rbac: auth.NewRBACPolicy(name),
		seen: make(map[string]bool),
	}
}

// Name implements auth.Policy.
func (p *TokenClaimsPolicy) Name() string { return p.rbac.Name() }

// SyncClaims registers claims.LearnerID's token-granted permissions as a
// role on the underlying RBACPolicy, the first time this subject is seen.
func (p *TokenClaimsPolicy) SyncClaims(claims token.Claims) {
	roleName := "token:" + claims.LearnerID

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[roleName] {
		return
	}
	p.seen[roleName] = true

	perms := make([]auth.Permission, len(claims.Permissions))
	for i, perm := range claims.Permissions {
		perms[i] = auth.Permission(perm)
	}
	if err := p.rbac.AddRole(auth.Role{Name: roleName, Permissions: perms}); err != nil {
		return
	}
	_ = p.rbac.AssignRole(claims.LearnerID, roleName)
}

// Authorize implements auth.Policy by delegating to the underlying RBACPolicy.
func (p *TokenClaimsPolicy) Authorize(ctx context.Context, subject string, permission auth.Permission, resource string) (bool, error) {
	return p.rbac.Authorize(ctx, subject, permission, resource)
}

// claimsSyncer is implemented by auth.Policy values that need to observe a
// request's verified token.Claims before Authorize can decide on them, such
// as TokenClaimsPolicy.
type claimsSyncer interface {
	SyncClaims(claims token.Claims)
}

var _ auth.Policy = (*TokenClaimsPolicy)(nil)
