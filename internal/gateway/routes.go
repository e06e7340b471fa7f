// ABOUTME: The curated set of API paths Upstream is known to serve.
// ABOUTME: Paths are relative to the /api/v<version> prefix.

package gateway

// standardRoutes lists the paths, relative to the API prefix, that Upstream
// serves itself. A plug-in route on one of these is forwarded unless its
// router opted into local handling.
var standardRoutes = map[string]bool{
	"/models":                 true,
	"/modelelement":           true,
	"/modeluris":              true,
	"/server/ping":            true,
	"/server/configure":       true,
	"/subscribe":              true,
	"/close":                  true,
	"/save":                   true,
	"/saveall":                true,
	"/undo":                   true,
	"/redo":                   true,
	"/transaction":            true,
	"/validation":             true,
	"/validation/constraints": true,
	"/typeschema":             true,
	"/uischema":               true,
}

// IsStandardRoute reports whether Upstream serves the path, given relative to
// the API prefix.
func IsStandardRoute(relative string) bool {
	return standardRoutes[relative]
}
