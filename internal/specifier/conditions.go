package specifier

// Node conditional export condition orders named in spec.md §6.
var (
	CJSConditions = []string{"deno", "node", "require", "default"}
	ESMConditions = []string{"deno", "node", "import", "default"}
)

// PackageExportsMap is the parsed "exports" field of a package.json, either
// a flat string or nested per-condition maps.
type PackageExportsMap map[string]interface{}

// ResolveExportsCondition walks one entry of a package's "exports" subtree,
// returning the first target whose condition matches one of the ordered
// conditions; sub-path matching is left to the caller. This backs the CJS resolver (conditions CJSConditions)
// used during re-export chasing and the ESM resolver (conditions
// ESMConditions) used elsewhere.
func ResolveExportsCondition(entry interface{}, conditions []string) (string, bool) {
	switch v := entry.(type) {
	case string:
		return v, true
	case map[string]interface{}:
		for _, cond := range conditions {
			if next, ok := v[cond]; ok {
				if target, ok := ResolveExportsCondition(next, conditions); ok {
					return target, true
				}
			}
		}
		return "", false
	default:
		return "", false
	}
}
