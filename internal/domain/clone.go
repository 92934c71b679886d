package domain

import "encoding/json"

// Clone returns a deep copy so callers never share the store's live graph.
func (d *TripDocument) Clone() *TripDocument {
	if d == nil {
		return nil
	}
	out := *d
	if d.Days != nil {
		out.Days = make([]*Day, len(d.Days))
		for i, day := range d.Days {
			out.Days[i] = day.Clone()
		}
	}
	return &out
}

func (d *Day) Clone() *Day {
	if d == nil {
		return nil
	}
	out := *d
	if d.Items != nil {
		out.Items = make([]*Item, len(d.Items))
		for i, item := range d.Items {
			out.Items[i] = item.Clone()
		}
	}
	return &out
}

func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	out := *i
	if i.Plan != nil {
		out.Plan = make([]*PlanItem, len(i.Plan))
		for k, p := range i.Plan {
			cp := *p
			cp.Likes = cloneStrings(p.Likes)
			out.Plan[k] = &cp
		}
	}
	if i.Comments != nil {
		out.Comments = make([]*Comment, len(i.Comments))
		for k, c := range i.Comments {
			cc := *c
			cc.Likes = cloneStrings(c.Likes)
			out.Comments[k] = &cc
		}
	}
	out.Images = cloneStrings(i.Images)
	out.Spend = append([]SpendEntry(nil), i.Spend...)
	if i.Likes != nil {
		out.Likes = make(map[string][]string, len(i.Likes))
		for k, v := range i.Likes {
			out.Likes[k] = cloneStrings(v)
		}
	}
	if i.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(i.Extra))
		for k, v := range i.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
