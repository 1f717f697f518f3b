package redaction

import (
	"context"
	"strings"
)

// Roles that always see original content.
const (
	RoleAdministrator = "administrator"
	RoleEditor        = "editor"
)

// Identity is who is viewing the content.
type Identity struct {
	Name     string `json:"name"`
	IsAdmin  bool   `json:"is_admin"`
	IsEditor bool   `json:"is_editor"`
}

// Privileged reports whether the viewer bypasses every rule.
func (i Identity) Privileged() bool {
	return i.IsAdmin || i.IsEditor
}

// PermissionOracle answers role questions about the current viewer.
// Implementations must be safe for concurrent reads.
type PermissionOracle interface {
	CurrentViewer(ctx context.Context) (Identity, error)
	ViewerHasRole(ctx context.Context, role string) (bool, error)
}

// StaticViewer is a PermissionOracle for a viewer whose roles are known up
// front, such as one described by request headers.
type StaticViewer struct {
	Name  string
	Roles []string
}

// NewStaticViewer returns a viewer holding the given roles. Role names are
// compared case-insensitively.
func NewStaticViewer(name string, roles ...string) *StaticViewer {
	normalized := make([]string, 0, len(roles))
	for _, r := range roles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			normalized = append(normalized, r)
		}
	}
	return &StaticViewer{Name: name, Roles: normalized}
}

// CurrentViewer implements PermissionOracle.
func (v *StaticViewer) CurrentViewer(context.Context) (Identity, error) {
	return Identity{
		Name:     v.Name,
		IsAdmin:  v.has(RoleAdministrator),
		IsEditor: v.has(RoleEditor),
	}, nil
}

// ViewerHasRole implements PermissionOracle.
func (v *StaticViewer) ViewerHasRole(_ context.Context, role string) (bool, error) {
	return v.has(strings.ToLower(strings.TrimSpace(role))), nil
}

func (v *StaticViewer) has(role string) bool {
	for _, r := range v.Roles {
		if r == role {
			return true
		}
	}
	return false
}
