package traversal

import (
	"math/rand/v2"

	"github.com/MimeLyc/photo-sweeper/internal/media"
)

// SelectNext returns the index in window of the asset to present next under
// mode. It does not modify window. Random picks uniformly; chronological
// modes pick the extreme capture date, with undated assets last and ids
// breaking ties. A nil rng uses the global source.
func SelectNext(window []media.AssetRef, mode Mode, rng *rand.Rand) (int, bool) {
	if len(window) == 0 {
		return -1, false
	}

	if mode == ModeRandom {
		if rng == nil {
			return rand.IntN(len(window)), true
		}
		return rng.IntN(len(window)), true
	}

	best := 0
	for i := 1; i < len(window); i++ {
		if precedes(window[i], window[best], mode) {
			best = i
		}
	}
	return best, true
}

func precedes(a, b media.AssetRef, mode Mode) bool {
	if mode == ModeOldestFirst || mode == ModeNewestFirst {
		ad, bd := a.HasCreatedAt(), b.HasCreatedAt()
		switch {
		case ad && !bd:
			return true
		case !ad && bd:
			return false
		case ad && bd && !a.CreatedAt.Equal(b.CreatedAt):
			if mode == ModeOldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
	}
	return a.ID < b.ID
}
