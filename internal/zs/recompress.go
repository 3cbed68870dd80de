package zs

import "github.com/wapache-org/postgres-zedstore/internal/zstid"

// planSplitItems decides how to redistribute p's items across one or
// more pages. A single page is returned when everything still fits
// (the common case, called on every insert so it doubles as the
// "do we need to split at all" check). Otherwise the items are
// divided 90/10 when p is the rightmost page in the tree (Hikey ==
// MaxPlusOne, so sequentially appended inserts keep filling the same
// page instead of spraying across many half-full ones), or 50/50
// otherwise. Either half is recursively split again if it still
// doesn't fit a single page (possible on either side with unusually
// large items, not just the right: splitAt is chosen by item count,
// and the attribute tree's items are variable-sized once compressed),
// the same way the reference engine's recompression proceeds page by
// page. Every page this returns fits pageSize, except a page holding a
// single item that is itself larger than a page: that page is returned
// unsplit, and the caller's fits check rejects it before anything is
// written.
func planSplitItems(p *page, pageSize int) []*page {
	if pageFits(p, pageSize) {
		return []*page{p}
	}

	n := len(p.Items)
	if n < 2 {
		return []*page{p}
	}
	splitAt := n / 2
	if p.Hikey == zstid.MaxPlusOne {
		splitAt = n - n/10
	}
	if splitAt <= 0 {
		splitAt = 1
	}
	if splitAt >= n {
		splitAt = n - 1
	}

	left := &page{
		Level: p.Level,
		Lokey: p.Lokey,
		Hikey: p.Items[splitAt].FirstTid,
		Items: append([]rawItem(nil), p.Items[:splitAt]...),
	}
	right := &page{
		Level:     p.Level,
		Lokey:     p.Items[splitAt].FirstTid,
		Hikey:     p.Hikey,
		Rightlink: p.Rightlink,
		Items:     append([]rawItem(nil), p.Items[splitAt:]...),
	}

	return append(planSplitItems(left, pageSize), planSplitItems(right, pageSize)...)
}
