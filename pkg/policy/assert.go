package policy

import (
	"encoding/json"
	"fmt"
)

// AssertAdditive verifies the additive-patch invariant between an original
// document and its patched successor: every top-level key of the original is
// still present, and no key whose value is an array in both versions got
// shorter. A violation is a bug in a patch function, one that could silently
// revoke access grants belonging to resources meshgate does not own, so this
// panics instead of returning an error.
func AssertAdditive(original, patched Document) {
	for key, origRaw := range original {
		patchedRaw, ok := patched[key]
		if !ok {
			panic(fmt.Sprintf("policy: additive invariant violated: key %q dropped from patched document", key))
		}

		origLen, origIsArray := arrayLen(origRaw)
		patchedLen, patchedIsArray := arrayLen(patchedRaw)
		if origIsArray && patchedIsArray && patchedLen < origLen {
			panic(fmt.Sprintf("policy: additive invariant violated: array %q shrank from %d to %d entries",
				key, origLen, patchedLen))
		}
	}
}

func arrayLen(raw json.RawMessage) (int, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return 0, false
	}
	return len(arr), true
}
