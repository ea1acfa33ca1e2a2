package favorites

import (
	"sort"
	"strings"
)

// SortBy selects the ordering key for Sorted.
type SortBy string

const (
	SortByName       SortBy = "name"
	SortByAddedAt    SortBy = "addedAt"
	SortByLastViewed SortBy = "lastViewed"
	SortByViewCount  SortBy = "viewCount"
)

// Order is the sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// sortDefault orders pinned first, then most recently viewed.
func sortDefault(list []*Favorite) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if !a.LastViewed.Equal(b.LastViewed) {
			return a.LastViewed.After(b.LastViewed)
		}
		return a.ID < b.ID
	})
}

// sortBy orders pinned first, then by key in the requested direction.
func sortBy(list []Favorite, by SortBy, order Order) {
	compare := func(a, b Favorite) int {
		switch by {
		case SortByName:
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		case SortByAddedAt:
			return a.AddedAt.Compare(b.AddedAt)
		case SortByViewCount:
			return a.ViewCount - b.ViewCount
		default:
			return a.LastViewed.Compare(b.LastViewed)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		c := compare(a, b)
		if order == Desc {
			c = -c
		}
		return c < 0
	})
}
