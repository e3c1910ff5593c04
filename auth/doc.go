// Package auth provides capability-based authorization with a default-deny
// security model. Every authorization check is explicit — if no policy
// grants access, the request is denied.
//
// # Policy Interface
//
// The core Policy interface requires two methods:
//
//   - Name returns a unique identifier for the policy.
//   - Authorize checks whether a subject is allowed to perform a permission
//     on a resource. Returns (false, nil) for a clean deny.
//
// # RBAC
//
// RBACPolicy implements role-based access control. Subjects are assigned one
// or more roles via AssignRole, and authorization checks whether any assigned
// role contains the requested permission.
//
//	rbac := auth.NewRBACPolicy("main")
//	rbac.AddRole(auth.Role{Name: "admin", Permissions: []auth.Permission{auth.PermToolExec}})
//	rbac.AssignRole("alice", "admin")
//	allowed, err := rbac.Authorize(ctx, "alice", auth.PermToolExec, "calculator")
//
// # Built-in Permissions
//
// Standard permissions include PermToolExec, PermMemoryRead, PermMemoryWrite,
// PermAgentDelegate, and PermExternalAPI. Custom Permission values can be
// defined as needed — the voice relay defines its own session-scoped
// permissions alongside these.
//
// # Middleware and Hooks
//
//   - WithHooks wraps a Policy with lifecycle callbacks for OnAuthorize,
//     OnAllow, OnDeny, and OnError events.
//   - WithAudit wraps a Policy with slog-based audit logging.
//   - ApplyMiddleware composes middlewares in the standard right-to-left order.
//
// # Registry
//
// Policy factories register via Register, New, and List.
package auth
