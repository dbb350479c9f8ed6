package names

// Levenshtein computes the edit distance between a and b using two rows.
func Levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	if len(ar) == 0 {
		return len(br)
	}
	if len(br) == 0 {
		return len(ar)
	}
	if len(ar) > len(br) {
		ar, br = br, ar
	}

	prev := make([]int, len(ar)+1)
	curr := make([]int, len(ar)+1)
	for i := range prev {
		prev[i] = i
	}
	for j := 1; j <= len(br); j++ {
		curr[0] = j
		for i := 1; i <= len(ar); i++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			curr[i] = min(prev[i]+1, curr[i-1]+1, prev[i-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(ar)]
}

// WithinDistance reports whether Levenshtein(a, b) <= maxDist, skipping the
// matrix when the length difference already exceeds the bound.
func WithinDistance(a, b string, maxDist int) bool {
	la, lb := len([]rune(a)), len([]rune(b))
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	if diff > maxDist {
		return false
	}
	return Levenshtein(a, b) <= maxDist
}

// InitialCompatible reports whether two first names could refer to the same
// person because one is an initial of the other.
func InitialCompatible(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return false
	}
	if len(ra) != 1 && len(rb) != 1 {
		return false
	}
	return ra[0] == rb[0]
}

// SameName reports byte equality of the comparison keys.
func SameName(a, b Name) bool {
	return a.Key() == b.Key()
}

// FuzzyName reports whether a and b share a surname and their first names are
// within maxDist edits or initial-compatible. Exact matches also qualify.
func FuzzyName(a, b Name, maxDist int) bool {
	if a.Last == "" || b.Last == "" {
		return false
	}
	if a.Key() == b.Key() {
		return true
	}
	if a.Last == b.Last {
		if InitialCompatible(a.First, b.First) {
			return true
		}
		return a.First != "" && b.First != "" && WithinDistance(a.First, b.First, maxDist)
	}
	return WithinDistance(a.Key(), b.Key(), maxDist)
}
