// Package pagination turns server paging metadata into the page buttons the
// admin list shows.
package pagination

import "storefront/internal/domain"

// Radius is how many pages either side of the current one stay visible.
const Radius = 2

// Window is the rendered pager. EllipsisBefore[i] marks a gap in front of
// Buttons[i].
type Window struct {
	Buttons        []int
	EllipsisBefore []bool
	HasPrev        bool
	HasNext        bool
	// Visible is false when there is only one page to show.
	Visible bool
}

// Compute keeps page 1, the last page and every page within Radius of
// current. Any skipped run collapses into one ellipsis. Prev/next come from
// the server as-is.
func Compute(current int, meta domain.Pagination) Window {
	total := meta.TotalPages
	w := Window{
		HasPrev: meta.HasPrev,
		HasNext: meta.HasNext,
		Visible: total > 1,
	}
	if total < 1 {
		return w
	}

	prev := 0
	for page := 1; page <= total; page++ {
		if page != 1 && page != total && abs(page-current) > Radius {
			continue
		}
		w.Buttons = append(w.Buttons, page)
		w.EllipsisBefore = append(w.EllipsisBefore, prev > 0 && page-prev > 1)
		prev = page
	}
	return w
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
