package deployment

import "regexp"

// =============================================================================
// Setting Value Expansion
// =============================================================================

// placeholderRegex matches ${VAR} and ${VAR:-default}.
// Group 1 is the name, group 2 the ":-default" suffix, group 3 the default.
var placeholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandValue replaces ${VAR} and ${VAR:-default} placeholders in a local
// setting value using env. Unknown names without a default are left as-is so
// a literal "${...}" can still be published.
//
// Example:
//
//	ExpandValue("DefaultEndpointsProtocol=https;AccountName=${ACCOUNT}", env)
func ExpandValue(value string, env map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		sub := placeholderRegex.FindStringSubmatch(match)
		if v, ok := env[sub[1]]; ok {
			return v
		}
		if sub[2] != "" {
			return sub[3]
		}
		return match
	})
}

// ExpandSettings returns a copy of settings with every value expanded.
func ExpandSettings(settings map[string]string, env map[string]string) map[string]string {
	out := make(map[string]string, len(settings))
	for k, v := range settings {
		out[k] = ExpandValue(v, env)
	}
	return out
}
