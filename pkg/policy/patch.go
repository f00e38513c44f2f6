package policy

import (
	"encoding/json"
	"fmt"
)

// DefaultTagOwner is the principal granted ownership of tags meshgate
// creates when the caller supplies none.
const DefaultTagOwner = "autogroup:admin"

// PatchFunc is a pure transformation of a policy document. A patch that has
// nothing to do returns the document it was given, unchanged.
type PatchFunc func(Document) (Document, error)

// AddTagOwner appends a tagOwners entry mapping tag to owners. If the tag is
// already present, whatever its owners, the document is returned unchanged.
// With no owners given, DefaultTagOwner is used.
func AddTagOwner(doc Document, tag string, owners ...string) (Document, error) {
	if len(owners) == 0 {
		owners = []string{DefaultTagOwner}
	}
	tagOwners, err := doc.TagOwners()
	if err != nil {
		return nil, err
	}
	if _, ok := tagOwners[tag]; ok {
		return doc, nil
	}
	tagOwners[tag] = mustMarshal(owners)
	out := doc.clone()
	out[keyTagOwners] = mustMarshal(tagOwners)
	return out, nil
}

// RemoveTagOwner filters out the tagOwners entry for tag, but only when its
// owner list is exactly owners (so a user-edited entry survives teardown).
func RemoveTagOwner(doc Document, tag string, owners ...string) (Document, error) {
	if len(owners) == 0 {
		owners = []string{DefaultTagOwner}
	}
	tagOwners, err := doc.TagOwners()
	if err != nil {
		return nil, err
	}
	raw, ok := tagOwners[tag]
	if !ok {
		return doc, nil
	}
	var current []string
	if err := json.Unmarshal(raw, &current); err != nil {
		return nil, fmt.Errorf("decoding owners of %s: %w", tag, err)
	}
	if !sameStringSet(current, owners) {
		return doc, nil
	}
	delete(tagOwners, tag)
	out := doc.clone()
	out[keyTagOwners] = mustMarshal(tagOwners)
	return out, nil
}

// AddAutoApprover appends an autoApprovers.routes entry pre-authorizing tags
// to have the given route approved automatically. An existing entry for the
// route is left alone.
func AddAutoApprover(doc Document, route string, tags ...string) (Document, error) {
	routes, err := doc.AutoApproverRoutes()
	if err != nil {
		return nil, err
	}
	if _, ok := routes[route]; ok {
		return doc, nil
	}
	routes[route] = mustMarshal(tags)
	return doc.withAutoApproverRoutes(routes)
}

// RemoveAutoApprover filters out the autoApprovers.routes entry for route
// when its approver list is exactly tags.
func RemoveAutoApprover(doc Document, route string, tags ...string) (Document, error) {
	routes, err := doc.AutoApproverRoutes()
	if err != nil {
		return nil, err
	}
	raw, ok := routes[route]
	if !ok {
		return doc, nil
	}
	var current []string
	if err := json.Unmarshal(raw, &current); err != nil {
		return nil, fmt.Errorf("decoding approvers of %s: %w", route, err)
	}
	if !sameStringSet(current, tags) {
		return doc, nil
	}
	delete(routes, route)
	return doc.withAutoApproverRoutes(routes)
}

// AddACLRule appends rule to the acls list unless an equal rule (same
// action, same src and dst sets) is already present. Existing rules keep
// their bytes and order.
func AddACLRule(doc Document, rule ACLRule) (Document, error) {
	rules, err := doc.ACLs()
	if err != nil {
		return nil, err
	}
	for _, raw := range rules {
		var existing ACLRule
		if err := json.Unmarshal(raw, &existing); err != nil {
			continue // rule shapes meshgate does not model never match
		}
		if existing.Equal(rule) {
			return doc, nil
		}
	}
	rules = append(rules, mustMarshal(rule))
	out := doc.clone()
	out[keyACLs] = mustMarshal(rules)
	return out, nil
}

// RemoveACLRule filters out rules equal to rule, leaving every other rule's
// bytes and position untouched.
func RemoveACLRule(doc Document, rule ACLRule) (Document, error) {
	rules, err := doc.ACLs()
	if err != nil {
		return nil, err
	}
	kept := make([]json.RawMessage, 0, len(rules))
	removed := false
	for _, raw := range rules {
		var existing ACLRule
		if err := json.Unmarshal(raw, &existing); err == nil && existing.Equal(rule) {
			removed = true
			continue
		}
		kept = append(kept, raw)
	}
	if !removed {
		return doc, nil
	}
	out := doc.clone()
	out[keyACLs] = mustMarshal(kept)
	return out, nil
}

// PatchTagOwner adapts AddTagOwner to a PatchFunc.
func PatchTagOwner(tag string, owners ...string) PatchFunc {
	return func(doc Document) (Document, error) { return AddTagOwner(doc, tag, owners...) }
}

// UnpatchTagOwner adapts RemoveTagOwner to a PatchFunc.
func UnpatchTagOwner(tag string, owners ...string) PatchFunc {
	return func(doc Document) (Document, error) { return RemoveTagOwner(doc, tag, owners...) }
}

// PatchAutoApprover adapts AddAutoApprover to a PatchFunc.
func PatchAutoApprover(route string, tags ...string) PatchFunc {
	return func(doc Document) (Document, error) { return AddAutoApprover(doc, route, tags...) }
}

// UnpatchAutoApprover adapts RemoveAutoApprover to a PatchFunc.
func UnpatchAutoApprover(route string, tags ...string) PatchFunc {
	return func(doc Document) (Document, error) { return RemoveAutoApprover(doc, route, tags...) }
}

// PatchACLRule adapts AddACLRule to a PatchFunc.
func PatchACLRule(rule ACLRule) PatchFunc {
	return func(doc Document) (Document, error) { return AddACLRule(doc, rule) }
}

// UnpatchACLRule adapts RemoveACLRule to a PatchFunc.
func UnpatchACLRule(rule ACLRule) PatchFunc {
	return func(doc Document) (Document, error) { return RemoveACLRule(doc, rule) }
}

// withAutoApproverRoutes rebuilds the autoApprovers object around a new
// routes map, preserving sibling keys such as exitNode.
func (d Document) withAutoApproverRoutes(routes map[string]json.RawMessage) (Document, error) {
	approvers, err := d.objectAt(keyAutoApprovers)
	if err != nil {
		return nil, err
	}
	approvers[keyRoutes] = mustMarshal(routes)
	out := d.clone()
	out[keyAutoApprovers] = mustMarshal(approvers)
	return out, nil
}
