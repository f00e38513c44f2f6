package policy

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Document is the access-policy document as a generic top-level key to raw
// value map. Keys meshgate does not understand round-trip unchanged; only
// the tagOwners, autoApprovers and acls substructures get typed accessors.
type Document map[string]json.RawMessage

// Substructure keys meshgate patches.
const (
	keyTagOwners     = "tagOwners"
	keyAutoApprovers = "autoApprovers"
	keyRoutes        = "routes"
	keyACLs          = "acls"
)

// ACLRule is one accept rule in the acls list. Src and Dst are unordered
// sets for equality purposes.
type ACLRule struct {
	Action string   `json:"action"`
	Src    []string `json:"src"`
	Dst    []string `json:"dst"`
}

// Equal reports whether two rules have the same action and the same source
// and destination sets, ignoring element order.
func (r ACLRule) Equal(other ACLRule) bool {
	return r.Action == other.Action &&
		sameStringSet(r.Src, other.Src) &&
		sameStringSet(r.Dst, other.Dst)
}

// Parse decodes raw policy bytes into a Document.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing policy document: %w", err)
	}
	return doc, nil
}

// Encode serializes the document. Top-level keys are emitted in sorted
// order, so encoding is deterministic and patch idempotence is byte-level.
func (d Document) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// TagOwners decodes the tagOwners substructure. A missing key yields an
// empty map, never an error.
func (d Document) TagOwners() (map[string]json.RawMessage, error) {
	return d.objectAt(keyTagOwners)
}

// AutoApproverRoutes decodes autoApprovers.routes. Missing keys yield an
// empty map.
func (d Document) AutoApproverRoutes() (map[string]json.RawMessage, error) {
	approvers, err := d.objectAt(keyAutoApprovers)
	if err != nil {
		return nil, err
	}
	raw, ok := approvers[keyRoutes]
	if !ok {
		return map[string]json.RawMessage{}, nil
	}
	var routes map[string]json.RawMessage
	if err := json.Unmarshal(raw, &routes); err != nil {
		return nil, fmt.Errorf("decoding %s.%s: %w", keyAutoApprovers, keyRoutes, err)
	}
	return routes, nil
}

// ACLs decodes the acls list, keeping each rule as raw bytes so rules with
// fields meshgate does not model survive untouched.
func (d Document) ACLs() ([]json.RawMessage, error) {
	raw, ok := d[keyACLs]
	if !ok {
		return nil, nil
	}
	var rules []json.RawMessage
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", keyACLs, err)
	}
	return rules, nil
}

// clone returns a shallow copy of the document. Patches mutate only the
// copy, so callers holding the original see no change.
func (d Document) clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d Document) objectAt(key string) (map[string]json.RawMessage, error) {
	raw, ok := d[key]
	if !ok {
		return map[string]json.RawMessage{}, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return obj, nil
}

// mustMarshal is for values built by meshgate itself; failure to marshal
// them is a bug.
func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("policy: marshaling internal value: %v", err))
	}
	return raw
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
