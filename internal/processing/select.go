package processing

import (
	"sort"
)

// Category groups used by the selection rules.
var (
	livingRoomCategories = []string{
		"three-seat sofa", "two-seat sofa", "l-shaped sofa", "loveseat sofa",
		"coffee table", "corner/side table", "tv stand", "armchair",
		"floor lamp", "pendant lamp", "ceiling lamp", "bookcase",
		"sofa", "lighting",
	}
	sofaCategories     = []string{"three-seat sofa", "two-seat sofa", "l-shaped sofa", "loveseat sofa"}
	coffeeCategories   = []string{"coffee table"}
	tvStandCategories  = []string{"tv stand"}
	lightingCategories = []string{"floor lamp", "pendant lamp", "ceiling lamp"}
	bookcaseCategories = []string{"bookcase"}
)

// Layout constraints, in metres.
const (
	tableWidthMinRatio = 0.5
	tableWidthMaxRatio = 0.75
	maxTableDepth      = 0.7
	tvToSofaMinRatio   = 0.8
	tvToSofaMaxRatio   = 1.3
	clearSofaTable     = 0.45
	clearTableTV       = 0.9
	fallbackMaxLen     = 4.0
	fallbackMaxDepth   = 2.5
	assumedTableDepth  = 0.6
)

// RoomSize is the usable floor area in metres.
type RoomSize struct {
	Length float64
	Depth  float64
}

// SelectionRequest describes what to furnish.
type SelectionRequest struct {
	Style  string
	Budget float64
	// Room is optional; conservative item limits apply when it is nil.
	Room *RoomSize
}

// Selection is the outcome of SelectFurniture.
type Selection struct {
	Items     []Item
	Total     float64
	Remaining float64
}

// SelectFurniture picks a living room set within budget. A sofa is chosen
// first, then a coffee table and TV stand proportioned to it, then lighting
// and bookcases, most expensive first, while money remains. Armchairs are
// never selected.
func SelectFurniture(c *Catalog, req SelectionRequest) Selection {
	style := normalize(req.Style)
	var pool []Item
	for _, it := range c.Items {
		cat, super := normalize(it.Category), normalize(it.SuperCategory)
		if !contains(livingRoomCategories, cat) && !contains(livingRoomCategories, super) {
			continue
		}
		if style != "" && normalize(it.Style) != style {
			continue
		}
		if !fitsRoom(it, req.Room) {
			continue
		}
		pool = append(pool, it)
	}

	remaining := req.Budget
	var selected []Item
	take := func(it *Item) {
		if it == nil {
			return
		}
		selected = append(selected, *it)
		remaining -= it.Price
	}

	sofa := firstAffordable(filter(pool, func(it Item) bool {
		return contains(sofaCategories, normalize(it.Category))
	}), remaining)
	take(sofa)

	var coffee *Item
	if sofa != nil {
		coffee = firstAffordable(filter(pool, func(it Item) bool {
			if !contains(coffeeCategories, normalize(it.Category)) {
				return false
			}
			if it.Size.X < tableWidthMinRatio*sofa.Size.X || it.Size.X > tableWidthMaxRatio*sofa.Size.X {
				return false
			}
			if it.Size.Z > maxTableDepth {
				return false
			}
			if req.Room != nil {
				depth := sofa.Size.Z + clearSofaTable + it.Size.Z + clearTableTV
				if depth > req.Room.Depth || sofa.Size.X > req.Room.Length {
					return false
				}
			}
			return true
		}), remaining)
		take(coffee)

		tableDepth := assumedTableDepth
		if coffee != nil {
			tableDepth = coffee.Size.Z
		}
		chainFits := req.Room == nil ||
			sofa.Size.Z+clearSofaTable+tableDepth+clearTableTV <= req.Room.Depth
		if chainFits {
			tv := firstAffordable(filter(pool, func(it Item) bool {
				if !contains(tvStandCategories, normalize(it.Category)) {
					return false
				}
				return it.Size.X >= tvToSofaMinRatio*sofa.Size.X && it.Size.X <= tvToSofaMaxRatio*sofa.Size.X
			}), remaining)
			take(tv)
		}
	}

	extras := filter(pool, func(it Item) bool {
		cat := normalize(it.Category)
		return contains(lightingCategories, cat) || contains(bookcaseCategories, cat)
	})
	sort.SliceStable(extras, func(i, j int) bool { return extras[i].Price > extras[j].Price })
	chosen := make(map[string]bool, len(selected))
	for _, it := range selected {
		chosen[it.ModelID] = true
	}
	for i := range extras {
		it := extras[i]
		if it.Price > remaining || chosen[it.ModelID] {
			continue
		}
		chosen[it.ModelID] = true
		take(&it)
	}

	return Selection{Items: selected, Total: req.Budget - remaining, Remaining: remaining}
}

func fitsRoom(it Item, room *RoomSize) bool {
	if room == nil {
		return it.Size.X <= fallbackMaxLen && it.Size.Z <= fallbackMaxDepth
	}
	return it.Size.X <= room.Length && it.Size.Z <= room.Depth
}

// firstAffordable returns the cheapest item that fits the budget.
func firstAffordable(items []Item, budget float64) *Item {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Price < items[j].Price })
	for i := range items {
		if items[i].Price <= budget {
			it := items[i]
			return &it
		}
	}
	return nil
}

func filter(items []Item, keep func(Item) bool) []Item {
	var out []Item
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
