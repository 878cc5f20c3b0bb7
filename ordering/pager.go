package ordering

// Window is one page of an ordered list
type Window struct {
	Page   int // Zero based, clamped to the last page
	Limit  int
	Offset int
	Pages  int
	Total  int64
}

func NewWindow(total int64, page, limit int) Window {
	if limit <= 0 {
		limit = 1
	}
	if total < 0 {
		total = 0
	}
	pages := int((total + int64(limit) - 1) / int64(limit))
	if page < 0 {
		page = 0
	}
	if pages > 0 && page >= pages {
		page = pages - 1
	}
	if pages == 0 {
		page = 0
	}
	return Window{
		Page:   page,
		Limit:  limit,
		Offset: page * limit,
		Pages:  pages,
		Total:  total,
	}
}

func (w Window) HasNext() bool {
	return w.Page+1 < w.Pages
}

func (w Window) HasPrevious() bool {
	return w.Page > 0
}

type Neighbors struct {
	Previous *uint64
	Next     *uint64
	Found    bool
}

// ComputeNeighbors finds the ids right before and after current in one pass over ids.
// When current is absent the result is empty.
func ComputeNeighbors(ids []uint64, current uint64) Neighbors {
	result := Neighbors{}
	for i, id := range ids {
		if id != current {
			continue
		}
		result.Found = true
		if i > 0 {
			prev := ids[i-1]
			result.Previous = &prev
		}
		if i+1 < len(ids) {
			next := ids[i+1]
			result.Next = &next
		}
		break
	}
	return result
}
