package permissions

import "github.com/nexusgw/gateway/pkg/models"

// Resolver combines a static, process-wide tool catalog with a principal's
// claims to produce the principal's permitted tool set. It is deterministic
// and side-effect-free (SPEC_FULL.md §4.3, testable property #1).
type Resolver struct {
	catalog []models.ToolPermission
}

// NewResolver builds a Resolver over the given catalog.
func NewResolver(catalog []models.ToolPermission) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve returns the set of tool names the principal is permitted to call.
// It never consults PermittedTools on the principal itself — callers should
// check Principal.HasPrecomputedTools() first and skip this entirely when
// the credential carried a pre-computed fxn claim.
func (r *Resolver) Resolve(p *models.Principal) []string {
	scopes := toSet(p.Scopes)
	roles := toSet(p.Roles)

	attrs := map[string]any{}
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	attrs["verified"] = p.Verified
	if p.Tier != "" {
		attrs["tier"] = p.Tier
	}
	if p.Region != "" {
		attrs["region"] = p.Region
	}

	var permitted []string
	for _, tool := range r.catalog {
		if !scopeGate(tool.RequiredScopes, scopes) {
			continue
		}
		if !roleGate(tool.RequiredRoles, roles) {
			continue
		}
		if !conditionGate(tool.Conditions, attrs) {
			continue
		}
		permitted = append(permitted, tool.Name)
	}
	return permitted
}

func scopeGate(required []string, have map[string]struct{}) bool {
	if len(required) == 0 {
		return true
	}
	for _, s := range required {
		if _, ok := have[s]; ok {
			return true
		}
	}
	return false
}

func roleGate(required []string, have map[string]struct{}) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if _, ok := have[r]; ok {
			return true
		}
	}
	return false
}

// conditionGate evaluates each attribute condition. "verified" is a
// truthy-equals check; any other key is treated as an enumerated match,
// supporting either a single value or a list of acceptable values.
func conditionGate(conditions map[string]any, attrs map[string]any) bool {
	for key, want := range conditions {
		got := attrs[key]
		if key == "verified" {
			if truthy(want) && !truthy(got) {
				return false
			}
			continue
		}
		if list, ok := asStringList(want); ok {
			if !contains(list, stringify(got)) {
				return false
			}
			continue
		}
		if stringify(got) != stringify(want) {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	default:
		return true
	}
}

func asStringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, stringify(item))
		}
		return out, true
	default:
		return nil, false
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return ""
}
