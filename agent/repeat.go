package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/GoCodeAlone/guild/task"
)

// repeatedAttempt returns the 1-based number of the most recent earlier
// attempt whose actions are identical to actions, or 0 when the plan is
// new. Empty plans never count as repeats.
func repeatedAttempt(attempts []task.Attempt, actions []task.Action) int {
	if len(actions) == 0 {
		return 0
	}
	h := hashActions(actions)
	for i := len(attempts) - 1; i >= 0; i-- {
		if len(attempts[i].Actions) == len(actions) && hashActions(attempts[i].Actions) == h {
			return i + 1
		}
	}
	return 0
}

// hashActions hashes the tool names and payloads in order. encoding/json
// sorts map keys, so equal payloads hash equally.
func hashActions(actions []task.Action) string {
	data, err := json.Marshal(actions)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
