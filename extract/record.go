package extract

import (
	"encoding/json"
)

// Record maps target names to the items produced for each node the target
// matched, in document order.
type Record map[string][]Item

// Item is the result of one matched node. Value is set when the target has an
// extraction rule, Fields when it has child targets.
type Item struct {
	Value    string
	HasValue bool
	Fields   Record
}

// ValueItem returns a leaf item.
func ValueItem(v string) Item {
	return Item{Value: v, HasValue: true}
}

// GroupItem returns an item holding nested records.
func GroupItem(fields Record) Item {
	return Item{Fields: fields}
}

// Values returns the scalar values stored under name.
func (r Record) Values(name string) []string {
	items := r[name]
	values := make([]string, 0, len(items))
	for _, it := range items {
		if it.HasValue {
			values = append(values, it.Value)
		}
	}
	return values
}

// Groups returns the nested records stored under name.
func (r Record) Groups(name string) []Record {
	items := r[name]
	groups := make([]Record, 0, len(items))
	for _, it := range items {
		if it.Fields != nil {
			groups = append(groups, it.Fields)
		}
	}
	return groups
}

// MarshalJSON encodes leaf items as their value, group items as an object,
// and items that are both as {"value": ..., "then": {...}}. Inert items
// encode as null.
func (it Item) MarshalJSON() ([]byte, error) {
	switch {
	case it.HasValue && it.Fields != nil:
		return json.Marshal(struct {
			Value string `json:"value"`
			Then  Record `json:"then"`
		}{it.Value, it.Fields})
	case it.HasValue:
		return json.Marshal(it.Value)
	case it.Fields != nil:
		return json.Marshal(it.Fields)
	default:
		return []byte("null"), nil
	}
}

// MarshalYAML encodes items the same way MarshalJSON does.
func (it Item) MarshalYAML() (any, error) {
	return it.plain(), nil
}

func (it Item) plain() any {
	switch {
	case it.HasValue && it.Fields != nil:
		return map[string]any{"value": it.Value, "then": it.Fields}
	case it.HasValue:
		return it.Value
	case it.Fields != nil:
		return it.Fields
	default:
		return nil
	}
}
