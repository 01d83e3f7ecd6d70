package labelbridge

import (
	"fmt"
	"strings"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// ldpDownPrefix is the standardized prefix for administrative-shutdown
// communication strings sent to the BGP speaker when an LDP adjacency
// drops. GoBGP's DisablePeer uses RFC 8203 Administrative Shutdown
// (Cease subcode 2); this prefix lets operators recognize an
// LDP-triggered shutdown in BGP logs and monitoring.
const ldpDownPrefix = "LDP neighbor down"

// FormatLDPDownCommunication formats an LDP-triggered shutdown
// communication string for the BGP speaker's DisablePeerRequest.Communication
// field (RFC 8203 administrative reason).
//
// Format: "LDP neighbor down: <old>-><new>".
func FormatLDPDownCommunication(oldState, newState ldp.NeighborState) string {
	return fmt.Sprintf("%s: %s->%s", ldpDownPrefix, oldState, newState)
}

// ParseLDPDownCommunication checks whether a communication string was
// formatted by FormatLDPDownCommunication and extracts the transition
// description. Returns the transition string and true if the prefix
// matches, or empty string and false otherwise.
func ParseLDPDownCommunication(communication string) (string, bool) {
	prefix := ldpDownPrefix + ": "
	if !strings.HasPrefix(communication, prefix) {
		return "", false
	}
	return communication[len(prefix):], true
}
