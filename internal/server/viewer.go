package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/raaihank/redactor/internal/redaction"
	"github.com/raaihank/redactor/internal/rules"
)

// Headers carrying the viewer identity set by the fronting application.
//
// The service does not authenticate these headers. It must only be reachable
// through a front end that authenticates the user and overwrites both viewer
// headers on every request; anyone who can reach it directly can claim any
// role, including administrator. Deployments without such a front end plug
// their own ViewerResolver into Dependencies.
const (
	HeaderViewerName  = "X-Viewer-Name"
	HeaderViewerRoles = "X-Viewer-Roles"
	HeaderRequestID   = "X-Request-ID"
)

// ViewerResolver builds the permission oracle for the caller of a request.
type ViewerResolver func(r *http.Request) (redaction.PermissionOracle, error)

// HeaderViewers resolves viewers from the trusted identity headers. A request
// without a name is an anonymous viewer holding no roles.
func HeaderViewers(r *http.Request) (redaction.PermissionOracle, error) {
	return viewerFromRequest(r)
}

func viewerFromRequest(r *http.Request) (*redaction.StaticViewer, error) {
	name := strings.TrimSpace(r.Header.Get(HeaderViewerName))
	raw := strings.TrimSpace(r.Header.Get(HeaderViewerRoles))
	if raw == "" {
		return redaction.NewStaticViewer(name), nil
	}
	roles, err := rules.ParseRoles(raw)
	if err != nil {
		return nil, err
	}
	return redaction.NewStaticViewer(name, roles...), nil
}

// viewerName is the display name used in events; it is empty when the oracle fails.
func viewerName(ctx context.Context, viewer redaction.PermissionOracle) string {
	identity, err := viewer.CurrentViewer(ctx)
	if err != nil {
		return ""
	}
	return identity.Name
}
