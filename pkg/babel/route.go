package babel

import "net"

// Route is a single parsed routing-daemon route record. Only fields the
// billing core consumes are kept; other "add route" keys are parsed and
// discarded (spec.md §6: unknown keys are ignored).
type Route struct {
	Prefix      *net.IPNet
	Installed   bool
	Price       uint32
	RefMetric   uint32
	FullPathRTT float32
}

// IsBillableHostRoute reports whether this route is an installed IPv6 /128
// host route — the only routes that identify a billing-relevant peer
// (spec.md §3).
func (r Route) IsBillableHostRoute() bool {
	if !r.Installed || r.Prefix == nil {
		return false
	}
	ones, bits := r.Prefix.Mask.Size()
	return bits == 128 && ones == 128 && r.Prefix.IP.To4() == nil
}
