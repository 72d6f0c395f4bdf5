package tgui

import "fmt"

// Page is one window over a list. Index is 0-based and clamped to the last page.
type Page[T any] struct {
	Items   []T
	Index   int
	Pages   int
	From    int // 0-based, inclusive
	To      int // exclusive
	Total   int
	HasPrev bool
	HasNext bool
}

func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := max((total+size-1)/size, 1)
	index = min(max(index, 0), pages-1)
	from := min(index*size, total)
	to := min(from+size, total)
	return Page[T]{
		Items:   items[from:to],
		Index:   index,
		Pages:   pages,
		From:    from,
		To:      to,
		Total:   total,
		HasPrev: index > 0,
		HasNext: to < total,
	}
}

// Label renders "Page 2/3 • 51–100 of 120".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Page 1/1"
	}
	return fmt.Sprintf("Page %d/%d • %d–%d of %d", p.Index+1, p.Pages, p.From+1, p.To, p.Total)
}
