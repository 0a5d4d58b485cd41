package chat

import "slices"

// ContainsMessage reports whether a message with id is present in list.
func ContainsMessage(list []Message, id string) bool {
	return slices.ContainsFunc(list, func(m Message) bool { return m.ID == id })
}

// InsertMessage adds msg to list unless a message with the same ID is already
// there. The result is sorted ascending by CreatedAt and holds at most limit
// entries; the oldest are dropped first. The boolean reports whether msg was
// added.
func InsertMessage(list []Message, msg Message, limit int) ([]Message, bool) {
	if ContainsMessage(list, msg.ID) {
		return list, false
	}
	list = append(list, msg)
	SortMessages(list)
	return Truncate(list, limit), true
}

// MergeMessages folds incoming into list with the same rules as InsertMessage.
func MergeMessages(list, incoming []Message, limit int) []Message {
	for _, msg := range incoming {
		if ContainsMessage(list, msg.ID) {
			continue
		}
		list = append(list, msg)
	}
	SortMessages(list)
	return Truncate(list, limit)
}

// SortMessages orders list ascending by CreatedAt, keeping insertion order
// for equal timestamps.
func SortMessages(list []Message) {
	slices.SortStableFunc(list, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// Truncate keeps the newest limit entries of an ascending list.
func Truncate(list []Message, limit int) []Message {
	if limit <= 0 || len(list) <= limit {
		return list
	}
	trimmed := make([]Message, limit)
	copy(trimmed, list[len(list)-limit:])
	return trimmed
}
