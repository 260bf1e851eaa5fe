package cat

import "github.com/lsat-prep/cat/internal/irt"

// Selector picks the next bank index to administer. ok is false when no
// eligible item is left.
type Selector interface {
	Select(bank []irt.Item, administered []int, theta float64) (index int, ok bool)
}

// MaxInfoSelector picks the unadministered item with the highest Fisher
// information at theta. Ties go to the lowest index.
type MaxInfoSelector struct{}

func (MaxInfoSelector) Select(bank []irt.Item, administered []int, theta float64) (int, bool) {
	used := make(map[int]bool, len(administered))
	for _, i := range administered {
		used[i] = true
	}

	best, bestInfo := -1, 0.0
	for i, it := range bank {
		if used[i] {
			continue
		}
		info := irt.Information(theta, it)
		if best < 0 || info > bestInfo {
			best, bestInfo = i, info
		}
	}
	return best, best >= 0
}

// LinearSelector administers the bank in its original order and ignores theta.
type LinearSelector struct{}

func (LinearSelector) Select(bank []irt.Item, administered []int, _ float64) (int, bool) {
	next := 0
	if n := len(administered); n > 0 {
		next = administered[n-1] + 1
	}
	if next >= len(bank) {
		return -1, false
	}
	return next, true
}
