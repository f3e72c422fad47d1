package engine

import (
	"sort"

	"github.com/openfroyo/polsync/pkg/schema"
)

// DiffResult is the outcome of comparing desired state with a found resource.
type DiffResult struct {
	// Changed reports whether any modelled field differs.
	Changed bool `json:"changed"`

	// Patch is the complete, carry-forward update payload.
	Patch Patch `json:"patch"`

	// Changes lists the differing fields for reporting. Secret values are redacted.
	Changes []Change `json:"changes,omitempty"`
}

// Diff compares desired with the found resource using the schema's
// comparison semantics and builds a carry-forward patch:
//
//   - fields absent from desired keep their existing value
//   - sets compare order-independently; ordered lists with a sort key are
//     sorted by it on both sides first
//   - nested objects recurse, an absent existing object counting as empty
//   - secrets always count as changed
//   - list-typed fields that are null or absent become empty lists
//   - identity fields and the container are always copied
//   - read-only fields are carried, never compared
//   - fields the schema does not declare are never read or emitted
//
// When desired selects a member of a variant group, the other members carried
// from the remote are dropped so the patch stays valid.
func Diff(desired DesiredState, found RemoteResource, s *schema.ResourceSchema) DiffResult {
	dm, _ := asMap(normalize(map[string]interface{}(desired)))
	em, _ := asMap(normalize(map[string]interface{}(found)))

	d := &differ{}
	patch, changed := d.object(dm, em, s, "", true)

	for _, id := range s.Identity() {
		if v, ok := em[id]; ok && v != nil {
			patch[id] = v
		}
	}
	if name, ok := dm[schema.NameField]; ok && name != nil {
		patch[schema.NameField] = name
	}

	if g, ok := s.ContainerGroup(); ok {
		if c, ok := containerFrom(dm, g); ok {
			for _, m := range g.Members {
				delete(patch, m)
			}
			patch[c.Field] = c.Value
		}
	}

	return DiffResult{
		Changed: changed,
		Patch:   Patch(patch),
		Changes: d.changes,
	}
}

// containerFrom picks the container member set in obj without validating
// exclusivity; ResolveContainer does that.
func containerFrom(obj map[string]interface{}, g schema.ExclusiveGroup) (ContainerSelector, bool) {
	for _, m := range g.Members {
		if v, ok := obj[m].(string); ok && v != "" {
			return ContainerSelector{Field: m, Value: v}, true
		}
	}
	return ContainerSelector{}, false
}

type differ struct {
	changes []Change
}

func (d *differ) object(desired, existing map[string]interface{}, s *schema.ResourceSchema, prefix string, root bool) (map[string]interface{}, bool) {
	patch := make(map[string]interface{}, len(s.Fields))
	changed := false

	winners := make(map[string]string)
	for _, g := range s.VariantGroups() {
		w, err := selectMember(desired, g)
		if err != nil {
			// Ambiguous without precedence; ResolveVariants rejects this
			// before a diff is ever computed. Fall back to declaration order.
			w = setMembers(desired, g)[0]
		}
		if w != "" {
			winners[g.Name] = w
		}
	}

	var container schema.ExclusiveGroup
	if root {
		container, _ = s.ContainerGroup()
	}

	for _, f := range s.Fields {
		if root && (s.IsIdentity(f.Name) || container.Has(f.Name)) {
			continue
		}
		path := prefix + f.Name

		ev, eok := existing[f.Name]
		if ev == nil {
			eok = false
		}

		if f.ReadOnly {
			if eok {
				patch[f.Name] = ev
			}
			continue
		}

		g, grouped := s.GroupOf(f.Name)
		if grouped {
			if w := winners[g.Name]; w != "" && w != f.Name {
				if eok {
					changed = true
					d.record(f, path, ev, nil, ChangeActionRemove)
				}
				continue
			}
		}

		dv, dok := desired[f.Name]
		if dv == nil {
			dok = false
		}
		if !dok {
			if eok {
				patch[f.Name] = ev
			} else if f.IsList() && !grouped {
				patch[f.Name] = []interface{}{}
			}
			continue
		}

		value, fieldChanged := d.field(f, path, dv, ev, eok)
		patch[f.Name] = value
		changed = changed || fieldChanged
	}

	return patch, changed
}

func (d *differ) field(f schema.Field, path string, dv, ev interface{}, eok bool) (interface{}, bool) {
	switch f.Kind {
	case schema.KindSecret:
		d.record(f, path, ev, dv, actionFor(eok))
		return dv, true

	case schema.KindNested:
		dm, _ := asMap(dv)
		em, ok := asMap(ev)
		if !ok {
			em = map[string]interface{}{}
		}
		return d.object(dm, em, f.Nested, path+".", false)

	case schema.KindSet:
		dl, _ := asList(dv)
		el, ok := asList(ev)
		if !eok && len(dl) == 0 {
			return []interface{}{}, false
		}
		if eok && ok && setEqual(dl, el, f.CaseInsensitive) {
			return ev, false
		}
		d.record(f, path, ev, dl, actionFor(eok))
		return dl, true

	case schema.KindOrderedList:
		dl, _ := asList(dv)
		el, ok := asList(ev)
		if !ok {
			el = nil
		}
		return d.orderedList(f, path, dl, el, ev, eok)
	}

	if eok && valuesEqual(dv, ev, f.CaseInsensitive) {
		return ev, false
	}
	d.record(f, path, ev, dv, actionFor(eok))
	return dv, true
}

func (d *differ) orderedList(f schema.Field, path string, dl, el []interface{}, ev interface{}, eok bool) (interface{}, bool) {
	if !eok && len(dl) == 0 {
		return []interface{}{}, false
	}

	ds := sortEntries(dl, f.SortKey)
	es := sortEntries(el, f.SortKey)
	equal := eok && len(ds) == len(es)
	for i := 0; equal && i < len(ds); i++ {
		equal = entryEqual(f, ds[i], es[i])
	}
	if equal {
		return ev, false
	}

	// Entries matched by sort key keep the fields the caller left out.
	merged := make([]interface{}, len(dl))
	for i, e := range dl {
		merged[i] = e
		if f.Nested == nil || f.SortKey == "" {
			continue
		}
		dm, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		if em := findEntry(el, f.SortKey, dm[f.SortKey]); em != nil {
			merged[i], _ = (&differ{}).object(dm, em, f.Nested, "", false)
		}
	}

	d.record(f, path, ev, dl, actionFor(eok))
	return merged, true
}

func entryEqual(f schema.Field, a, b interface{}) bool {
	if f.Nested != nil {
		am, aok := a.(map[string]interface{})
		bm, bok := b.(map[string]interface{})
		if aok && bok {
			_, changed := (&differ{}).object(am, bm, f.Nested, "", false)
			return !changed
		}
	}
	return valuesEqual(a, b, f.CaseInsensitive)
}

// sortEntries returns a copy of list sorted by the entries' key field. An
// empty key keeps the original order.
func sortEntries(list []interface{}, key string) []interface{} {
	out := make([]interface{}, len(list))
	copy(out, list)
	if key == "" {
		return out
	}
	keyOf := func(e interface{}) string {
		if m, ok := e.(map[string]interface{}); ok {
			return canonical(m[key], false)
		}
		return canonical(e, false)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return keyOf(out[i]) < keyOf(out[j])
	})
	return out
}

func findEntry(list []interface{}, key string, value interface{}) map[string]interface{} {
	for _, e := range list {
		if m, ok := e.(map[string]interface{}); ok && valuesEqual(m[key], value, false) {
			return m
		}
	}
	return nil
}

func actionFor(existed bool) ChangeAction {
	if existed {
		return ChangeActionModify
	}
	return ChangeActionAdd
}

func (d *differ) record(f schema.Field, path string, before, after interface{}, action ChangeAction) {
	if f.Kind == schema.KindSecret {
		if before != nil {
			before = RedactedValue
		}
		if after != nil {
			after = RedactedValue
		}
	}
	d.changes = append(d.changes, Change{
		Path:   path,
		Before: before,
		After:  after,
		Action: action,
	})
}
