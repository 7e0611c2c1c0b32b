// Package channel implements channel name parsing and the subscribe/publish
// authorization rules that gate access to it.
package channel

import (
	"strings"

	"github.com/real-staging-ai/logbroker/internal/registry"
)

// FunctionService is the literal service component used for channels derived
// from a function_id (see Derive). Publishers targeting such a channel must
// declare this as their service name.
const FunctionService = "function"

// Name is a parsed channel name of the form logs:<service>:<workspace>:<resource?>.
type Name struct {
	Service   string
	Workspace string
	Resource  string
	raw       string
}

// String returns the channel's canonical, byte-exact form.
func (n Name) String() string {
	return n.raw
}

// Parse splits raw on ':' into at most four components and validates that
// the first is the literal "logs" and that service and workspace are
// non-empty. Malformed names return ok=false.
func Parse(raw string) (Name, bool) {
	parts := strings.SplitN(raw, ":", 4)
	if len(parts) < 3 {
		return Name{}, false
	}
	if parts[0] != "logs" {
		return Name{}, false
	}
	if parts[1] == "" || parts[2] == "" {
		return Name{}, false
	}

	n := Name{Service: parts[1], Workspace: parts[2], raw: raw}
	if len(parts) == 4 {
		n.Resource = parts[3]
	}
	return n, true
}

// ParseAndFilter parses each requested raw channel name, keeping only those
// that parse successfully and for which the principal belongs to the
// workspace component. Duplicates are removed while preserving first-seen
// order. Malformed or unauthorized names are silently dropped, never
// surfaced as errors.
func ParseAndFilter(requested []string, principal registry.Principal) []string {
	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested))

	for _, raw := range requested {
		if raw == "" {
			continue
		}
		n, ok := Parse(raw)
		if !ok {
			continue
		}
		if !principal.HasWorkspace(n.Workspace) {
			continue
		}
		if _, dup := seen[n.raw]; dup {
			continue
		}
		seen[n.raw] = struct{}{}
		out = append(out, n.raw)
	}

	return out
}

// Derive computes the publish target channel from the resource precedence
// rule: function_id beats workflow_id beats neither.
func Derive(service, workspaceID, workflowID, functionID string) string {
	switch {
	case functionID != "":
		return "logs:" + FunctionService + ":" + workspaceID + ":" + functionID
	case workflowID != "":
		return "logs:" + service + ":" + workspaceID + ":" + workflowID
	default:
		return "logs:" + service + ":" + workspaceID
	}
}

// AuthorizePublish reports whether declaredService may publish onto channel:
// the declared service must equal the channel's own service component.
// Authentication of the service token itself is a separate concern (see
// internal/auth.ServiceAuthenticator).
func AuthorizePublish(channelRaw, declaredService string) bool {
	n, ok := Parse(channelRaw)
	if !ok {
		return false
	}
	return n.Service == declaredService
}
