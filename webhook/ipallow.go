package webhook

import "net/netip"

// IPAllowed reports whether the given resolved target address passes the
// webhook's outbound allow-list. An empty allow-list permits everything.
// Unparseable entries are skipped; they are rejected at create/update time.
func (w *Webhook) IPAllowed(ip netip.Addr) bool {
	if len(w.AllowedIPs) == 0 {
		return true
	}

	for _, e := range w.AllowedIPs {
		if addr, err := netip.ParseAddr(e); err == nil {
			if addr == ip {
				return true
			}
			continue
		}
		if prefix, err := netip.ParsePrefix(e); err == nil {
			if prefix.Contains(ip) {
				return true
			}
		}
	}

	return false
}
