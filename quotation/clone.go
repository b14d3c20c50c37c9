package quotation

// Clone deep-copies a quotation so cached values never share slices.
func Clone(q Quotation) Quotation {
	cp := q
	if q.Comments != nil {
		cp.Comments = make([]Comment, len(q.Comments))
		for i, c := range q.Comments {
			cp.Comments[i] = CloneComment(c)
		}
	}
	cp.History = append([]HistoryEntry(nil), q.History...)
	if q.History != nil && cp.History == nil {
		cp.History = []HistoryEntry{}
	}
	return cp
}

func CloneComment(c Comment) Comment {
	cp := c
	if c.Replies != nil {
		cp.Replies = append(make([]Reply, 0, len(c.Replies)), c.Replies...)
	}
	return cp
}

// ClonePage deep-copies every row of a page.
func ClonePage(p Page) Page {
	cp := p
	if p.Items != nil {
		cp.Items = make([]Quotation, len(p.Items))
		for i, q := range p.Items {
			cp.Items[i] = Clone(q)
		}
	}
	return cp
}
