// Package kernel is the process-wide facade over the host's network
// tooling: reading per-tunnel WireGuard byte counters, bringing up the exit
// tunnel interface and NAT, and inspecting/mutating the default route. Every
// operation dispatches through an injectable CommandExecutor so tests never
// shell out for real (spec.md §4.1, §9).
package kernel

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"strconv"
	"strings"

	"net"

	"github.com/althea-mesh/tollwatch/pkg/identity"
)

// WgExitMarker is the token that identifies a route we installed ourselves,
// used to decide whether the current default route is safe to snapshot
// (spec.md §4.1 policy; original_source/althea_kernel_interface/src/ip_route.rs).
const WgExitMarker = "wg_exit"

// KI is the kernel interface facade. Callers treat it as thread-safe; it
// holds no mutable state of its own beyond the command-execution seam, so a
// single instance is created at daemon start and shared by every component
// that needs host access.
type KI struct {
	exec CommandExecutor
}

// New builds a KI backed by the given executor. Production callers pass
// &RealCommandExecutor{}; tests pass a MockCommandExecutor.
func New(exec CommandExecutor) *KI {
	return &KI{exec: exec}
}

func (k *KI) run(program string, args ...string) ([]byte, error) {
	out, err := k.exec.Command(program, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("kernel: %s %s: %w (output: %s)", program, strings.Join(args, " "), err, bytes.TrimSpace(out))
	}
	return out, nil
}

// ReadWGCounters returns cumulative download/upload byte totals per peer of
// the named WireGuard interface, parsed from `wg show <iface> transfer`
// output (lines of "<base64-pubkey>\t<rx-bytes>\t<tx-bytes>"). An empty map
// is a legal outcome; a missing interface surfaces as an error.
func (k *KI) ReadWGCounters(iface string) (map[identity.WgKey]identity.WgUsage, error) {
	out, err := k.run("wg", "show", iface, "transfer")
	if err != nil {
		return nil, fmt.Errorf("kernel: read_wg_counters(%s): interface missing or wg unavailable: %w", iface, err)
	}

	counters := make(map[identity.WgKey]identity.WgUsage)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			log.Printf("kernel: skipping malformed wg transfer line for %s: %q", iface, line)
			continue
		}
		key, err := identity.ParseWgKey(fields[0])
		if err != nil {
			log.Printf("kernel: skipping peer with unparseable key on %s: %v", iface, err)
			continue
		}
		rx, err1 := strconv.ParseUint(fields[1], 10, 64)
		tx, err2 := strconv.ParseUint(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			log.Printf("kernel: skipping peer %s on %s: non-numeric counters", fields[0], iface)
			continue
		}
		counters[key] = identity.WgUsage{Download: rx, Upload: tx}
	}
	return counters, nil
}

// SetupWGIfNamed idempotently ensures the named WireGuard interface exists
// and is up.
func (k *KI) SetupWGIfNamed(iface string) error {
	if _, err := k.run("ip", "link", "show", iface); err != nil {
		if _, err := k.run("ip", "link", "add", "dev", iface, "type", "wireguard"); err != nil {
			return fmt.Errorf("kernel: setup_wg_if_named(%s): create: %w", iface, err)
		}
	}
	if _, err := k.run("ip", "link", "set", "up", "dev", iface); err != nil {
		return fmt.Errorf("kernel: setup_wg_if_named(%s): bring up: %w", iface, err)
	}
	if up, err := interfaceIsUp(iface); err != nil {
		log.Printf("kernel: could not verify %s is up via ioctl: %v", iface, err)
	} else if !up {
		return fmt.Errorf("kernel: setup_wg_if_named(%s): interface did not come up", iface)
	}
	return nil
}

// interfaceIsUp double-checks the IFF_UP flag after `ip link set up`,
// instead of trusting the command's exit code alone.
func interfaceIsUp(iface string) (bool, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return false, fmt.Errorf("InterfaceByName(%s): %w", iface, err)
	}
	return ifi.Flags&net.FlagUp != 0, nil
}

// SetupNAT idempotently installs the exit's masquerade rule on externalNIC.
func (k *KI) SetupNAT(externalNIC string) error {
	checkArgs := []string{"-t", "nat", "-C", "POSTROUTING", "-o", externalNIC, "-j", "MASQUERADE"}
	if _, err := k.run("iptables", checkArgs...); err == nil {
		return nil // rule already present
	}
	addArgs := []string{"-t", "nat", "-A", "POSTROUTING", "-o", externalNIC, "-j", "MASQUERADE"}
	if _, err := k.run("iptables", addArgs...); err != nil {
		return fmt.Errorf("kernel: setup_nat(%s): %w", externalNIC, err)
	}
	return nil
}

// GetWGExitClientsOnline returns the number of peers with a non-zero
// endpoint on the exit tunnel — a diagnostic count, not used for billing.
func (k *KI) GetWGExitClientsOnline() (int, error) {
	out, err := k.run("wg", "show", "wg_exit", "endpoints")
	if err != nil {
		return 0, fmt.Errorf("kernel: get_wg_exit_clients_online: %w", err)
	}
	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(fields) == 2 && fields[1] != "(none)" {
			count++
		}
	}
	return count, nil
}
