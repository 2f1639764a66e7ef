package utils

// SliceToSet builds a lookup set from configured values such as ignored
// disconnect reasons. Duplicates collapse into one entry.
func SliceToSet[T comparable](values []T) map[T]struct{} {
	set := make(map[T]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
