package dispatch

import (
	"fmt"

	"github.com/agnivade/levenshtein"

	"github.com/opencode-ai/executor/pkg/protocol"
)

const maxSuggestDistance = 2

// unknownType builds the error for a request type the gateway does not
// handle, naming the closest known type when there is one.
func unknownType(t protocol.ClientPacketType) error {
	best, bestDist := protocol.ClientPacketType(""), maxSuggestDistance+1
	for _, known := range protocol.ClientTypes {
		if dist := levenshtein.ComputeDistance(string(t), string(known)); dist < bestDist {
			best, bestDist = known, dist
		}
	}
	if best == "" {
		return fmt.Errorf("unknown request type %q", t)
	}
	return fmt.Errorf("unknown request type %q (did you mean %q?)", t, best)
}
