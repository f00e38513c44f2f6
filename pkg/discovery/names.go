package discovery

import "strings"

// RouterPrefix is the fixed name prefix identifying router apps on the
// cloud platform.
const RouterPrefix = "mesh-router-"

// RouterName builds the physical app name for a network's router. The
// routerID is a short random suffix that later disambiguates workload app
// names per network.
func RouterName(network, routerID string) string {
	return RouterPrefix + network + "-" + routerID
}

// ParseRouter splits a router app name into its network and router ID.
// Network names may themselves contain hyphens; the router ID is always the
// final segment.
func ParseRouter(appName string) (network, routerID string, ok bool) {
	if !strings.HasPrefix(appName, RouterPrefix) {
		return "", "", false
	}
	rest := appName[len(RouterPrefix):]
	i := strings.LastIndex(rest, "-")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// WorkloadName builds the physical app name for a workload: the logical
// name scoped to the router fronting its network. This prevents collisions
// when the same logical name is deployed on two networks.
func WorkloadName(logical, routerID string) string {
	return logical + "-" + routerID
}

// ParseWorkload extracts the logical name from a workload app name given
// the router ID it is scoped to.
func ParseWorkload(appName, routerID string) (logical string, ok bool) {
	suffix := "-" + routerID
	if !strings.HasSuffix(appName, suffix) || len(appName) == len(suffix) {
		return "", false
	}
	return strings.TrimSuffix(appName, suffix), true
}
