// Package wave groups candidate work items into conflict-free waves and runs
// each wave with a bounded, adaptively-sized set of concurrent slots. Two
// items whose file scopes overlap never share a wave, so items within a wave
// can execute concurrently without file-level merge conflicts; waves
// themselves run strictly sequentially.
package wave

import (
	"strings"
)

// Complexity tiers carried by work items. Trivial and simple items are
// "light"; moderate and complex items are "heavy".
const (
	ComplexityTrivial  = "trivial"
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
)

// Item is one candidate work item: its identity, the files it declares it
// will touch, and its complexity tier.
type Item struct {
	ID         string
	Files      []string
	Complexity string
}

// IsLight reports whether the item counts as light for slot adaptation.
func (it Item) IsLight() bool {
	return it.Complexity == ComplexityTrivial || it.Complexity == ComplexitySimple
}

// Partition splits items into waves by greedy first-fit: each item joins the
// first existing wave containing no item whose declared paths overlap its
// own, or opens a new wave. Input order decides which wave an item lands in
// but never whether an overlap can occur inside one.
func Partition(items []Item) [][]Item {
	var waves [][]Item
	for _, item := range items {
		placed := false
		for i := range waves {
			if !conflictsWithWave(item, waves[i]) {
				waves[i] = append(waves[i], item)
				placed = true
				break
			}
		}
		if !placed {
			waves = append(waves, []Item{item})
		}
	}
	return waves
}

func conflictsWithWave(item Item, wave []Item) bool {
	for _, member := range wave {
		for _, a := range item.Files {
			for _, b := range member.Files {
				if PathsOverlap(a, b) {
					return true
				}
			}
		}
	}
	return false
}

// PathsOverlap reports whether two declared paths can touch the same file:
// they are equal, or one contains the other as a directory prefix.
func PathsOverlap(a, b string) bool {
	a = normalize(a)
	b = normalize(b)
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func normalize(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "./")
	return strings.TrimSuffix(path, "/")
}
