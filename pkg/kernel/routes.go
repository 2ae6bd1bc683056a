package kernel

import (
	"fmt"
	"net"
	"strings"
)

// GetDefaultRoute returns the host's current default route as the ordered
// token list `ip route show default` prints (e.g. "default via 10.0.0.1 dev
// eth0"), or false if there is none.
func (k *KI) GetDefaultRoute() ([]string, bool) {
	out, err := k.run("ip", "route", "list", "default")
	if err != nil {
		return nil, false
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "default") {
			return strings.Fields(line), true
		}
	}
	return nil, false
}

// SetRoute installs a route to `to` using the given route token list (as
// GetDefaultRoute returns it): the first token is replaced by `to` and the
// rest follow "route add <to>".
func (k *KI) SetRoute(to net.IP, route []string) error {
	if len(route) < 1 {
		return fmt.Errorf("kernel: set_route: empty route token list")
	}
	args := append([]string{"route", "add", to.String()}, route[1:]...)
	if _, err := k.run("ip", args...); err != nil {
		return fmt.Errorf("kernel: set_route(%s): %w", to, err)
	}
	return nil
}

// SetDefaultRoute installs the given token list as the default route.
func (k *KI) SetDefaultRoute(route []string) error {
	if len(route) < 1 {
		return fmt.Errorf("kernel: set_default_route: empty route token list")
	}
	args := append([]string{"route", "add", "default"}, route[1:]...)
	if _, err := k.run("ip", args...); err != nil {
		return fmt.Errorf("kernel: set_default_route: %w", err)
	}
	return nil
}

// isOurRoute reports whether a route's token list carries the wg_exit
// marker, meaning it is a route the daemon installed itself and therefore
// unsafe to snapshot as "the pre-tunnel default route" (spec.md §4.1).
func isOurRoute(route []string) bool {
	for _, tok := range route {
		if tok == WgExitMarker {
			return true
		}
	}
	return false
}

// PreserveDefaultRoute snapshots the host's current default route into
// settingsDefaultRoute, unless the current default route is one we
// installed ourselves, in which case the existing snapshot is left alone.
// Mirrors original_source/althea_kernel_interface/src/ip_route.rs's
// update_settings_route.
func (k *KI) PreserveDefaultRoute(settingsDefaultRoute *[]string) {
	route, ok := k.GetDefaultRoute()
	if !ok {
		return
	}
	if !isOurRoute(route) {
		*settingsDefaultRoute = route
	}
}

// ManualPeersRoute preserves the current default route, then installs a
// direct route to endpointIP using the preserved tokens — used when a
// tunnel to a manually-configured peer is brought up, so traffic to that
// peer's literal endpoint keeps using the pre-tunnel path.
func (k *KI) ManualPeersRoute(endpointIP net.IP, settingsDefaultRoute *[]string) error {
	k.PreserveDefaultRoute(settingsDefaultRoute)
	return k.SetRoute(endpointIP, *settingsDefaultRoute)
}

// RestoreDefaultRoute reinstates settingsDefaultRoute as the default route,
// unless the kernel's current default route is not one of ours (in which
// case it is already correct and settingsDefaultRoute is updated to match).
func (k *KI) RestoreDefaultRoute(settingsDefaultRoute *[]string) error {
	route, ok := k.GetDefaultRoute()
	if !ok {
		return k.SetDefaultRoute(*settingsDefaultRoute)
	}
	if isOurRoute(route) {
		return k.SetDefaultRoute(*settingsDefaultRoute)
	}
	*settingsDefaultRoute = route
	return nil
}
