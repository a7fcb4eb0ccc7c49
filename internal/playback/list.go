package playback

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	apperrors "github.com/deemusic/deemusic-player/internal/errors"
)

// Item is a playable media descriptor
type Item struct {
	ID        string        `json:"id"`
	SourceURI string        `json:"source_uri"`
	Title     string        `json:"title"`
	Artist    string        `json:"artist"`
	Album     string        `json:"album"`
	CoverURL  string        `json:"cover_url,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// RepeatMode controls what happens at the end of an item and of the list
type RepeatMode int

const (
	RepeatNone RepeatMode = iota
	RepeatAll
	RepeatSingle
)

// String returns the settings value of the mode
func (m RepeatMode) String() string {
	switch m {
	case RepeatAll:
		return "all"
	case RepeatSingle:
		return "single"
	default:
		return "none"
	}
}

// ParseRepeatMode parses a settings value
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch s {
	case "", "none":
		return RepeatNone, nil
	case "all":
		return RepeatAll, nil
	case "single":
		return RepeatSingle, nil
	default:
		return RepeatNone, apperrors.NewValidationError(fmt.Sprintf("invalid repeat mode: %s", s))
	}
}

// List is an ordered sequence of items with a cursor. The cursor is -1 only
// when the list is empty. List is not safe for concurrent use; Controller
// serializes access to it.
type List struct {
	items   []Item
	current int
	shuffle bool
	order   []int // play order of item indexes while shuffled
	repeat  RepeatMode
	rng     *rand.Rand
}

// NewList creates an empty list
func NewList() *List {
	now := uint64(time.Now().UnixNano())
	return newListWithSource(rand.NewPCG(now, now>>1))
}

func newListWithSource(src rand.Source) *List {
	return &List{current: -1, rng: rand.New(src)}
}

// Len returns the number of items
func (l *List) Len() int {
	return len(l.items)
}

// Items returns a copy of the items in list order
func (l *List) Items() []Item {
	return slices.Clone(l.items)
}

// At returns the item at index
func (l *List) At(index int) (Item, error) {
	if index < 0 || index >= len(l.items) {
		return Item{}, apperrors.NewOutOfRangeError(index, len(l.items))
	}
	return l.items[index], nil
}

// Current returns the cursor, false when the list is empty
func (l *List) Current() (int, bool) {
	return l.current, l.current >= 0
}

// CurrentItem returns the item under the cursor
func (l *List) CurrentItem() (Item, bool) {
	if l.current < 0 {
		return Item{}, false
	}
	return l.items[l.current], true
}

// Shuffle reports whether shuffled play order is enabled
func (l *List) Shuffle() bool {
	return l.shuffle
}

// Repeat returns the repeat mode
func (l *List) Repeat() RepeatMode {
	return l.repeat
}

// SetRepeat sets the repeat mode
func (l *List) SetRepeat(mode RepeatMode) {
	l.repeat = mode
}

// SetShuffle enables or disables shuffled play order. A fresh order starts
// at the current item.
func (l *List) SetShuffle(enabled bool) {
	l.shuffle = enabled
	l.order = nil
	if enabled {
		l.reshuffle()
	}
}

func (l *List) reshuffle() {
	l.order = make([]int, 0, len(l.items))
	for i := range l.items {
		if i != l.current {
			l.order = append(l.order, i)
		}
	}
	l.rng.Shuffle(len(l.order), func(i, j int) {
		l.order[i], l.order[j] = l.order[j], l.order[i]
	})
	if l.current >= 0 {
		l.order = append([]int{l.current}, l.order...)
	}
}

// Order returns the indexes in play order
func (l *List) Order() []int {
	if l.shuffle {
		return slices.Clone(l.order)
	}
	order := make([]int, len(l.items))
	for i := range order {
		order[i] = i
	}
	return order
}

// MoveTo puts the cursor on index
func (l *List) MoveTo(index int) error {
	if index < 0 || index >= len(l.items) {
		return apperrors.NewOutOfRangeError(index, len(l.items))
	}
	l.current = index
	return nil
}

// Insert places items before index; index == Len appends. The cursor keeps
// pointing at the same item, or at the first inserted item when the list was
// empty.
func (l *List) Insert(index int, items ...Item) error {
	if index < 0 || index > len(l.items) {
		return apperrors.NewOutOfRangeError(index, len(l.items))
	}
	if len(items) == 0 {
		return nil
	}

	wasEmpty := len(l.items) == 0
	n := len(items)
	l.items = slices.Insert(l.items, index, items...)

	if wasEmpty {
		l.current = 0
	} else if l.current >= index {
		l.current += n
	}

	if l.shuffle {
		for i, idx := range l.order {
			if idx >= index {
				l.order[i] = idx + n
			}
		}
		// New items are spread over the part of the order not yet played
		for k := 0; k < n; k++ {
			start := l.orderPos(l.current) + 1
			pos := start + l.rng.IntN(len(l.order)-start+1)
			l.order = slices.Insert(l.order, pos, index+k)
		}
	}
	return nil
}

// Append adds items at the end
func (l *List) Append(items ...Item) {
	l.Insert(len(l.items), items...)
}

// RemoveAt removes the item at index. When it was the current item the
// cursor stays on the item that now occupies the index, or on the new last
// item; it becomes -1 once the list is empty.
func (l *List) RemoveAt(index int) (Item, error) {
	if index < 0 || index >= len(l.items) {
		return Item{}, apperrors.NewOutOfRangeError(index, len(l.items))
	}

	removed := l.items[index]
	l.items = slices.Delete(l.items, index, index+1)

	switch {
	case len(l.items) == 0:
		l.current = -1
	case index < l.current:
		l.current--
	case index == l.current && l.current >= len(l.items):
		l.current = len(l.items) - 1
	}

	if l.shuffle {
		if pos := slices.Index(l.order, index); pos >= 0 {
			l.order = slices.Delete(l.order, pos, pos+1)
		}
		for i, idx := range l.order {
			if idx > index {
				l.order[i] = idx - 1
			}
		}
	}
	return removed, nil
}

// Clear removes every item
func (l *List) Clear() {
	l.items = nil
	l.order = nil
	l.current = -1
}

// Replace swaps the contents for items with the cursor on the first one
func (l *List) Replace(items []Item) {
	l.items = slices.Clone(items)
	l.current = -1
	if len(l.items) > 0 {
		l.current = 0
	}
	if l.shuffle {
		l.reshuffle()
	}
}

// orderPos returns the position of index in the play order
func (l *List) orderPos(index int) int {
	if !l.shuffle {
		return index
	}
	return slices.Index(l.order, index)
}

// orderAt returns the item index at play order position pos
func (l *List) orderAt(pos int) int {
	if !l.shuffle {
		return pos
	}
	return l.order[pos]
}

// Next moves the cursor forward in play order. auto is true when the
// current item ended by itself, which is where RepeatSingle applies. It
// returns false at the end of a non-repeating list, leaving the cursor alone.
func (l *List) Next(auto bool) (int, bool) {
	if len(l.items) == 0 {
		return -1, false
	}
	if auto && l.repeat == RepeatSingle {
		return l.current, true
	}

	pos := l.orderPos(l.current) + 1
	if pos >= len(l.items) {
		if l.repeat == RepeatNone {
			return l.current, false
		}
		pos = 0
	}
	l.current = l.orderAt(pos)
	return l.current, true
}

// Previous moves the cursor back in play order. At the start of a
// non-repeating list the cursor stays on the current item.
func (l *List) Previous() (int, bool) {
	if len(l.items) == 0 {
		return -1, false
	}

	pos := l.orderPos(l.current) - 1
	if pos < 0 {
		if l.repeat == RepeatNone {
			return l.current, true
		}
		pos = len(l.items) - 1
	}
	l.current = l.orderAt(pos)
	return l.current, true
}
