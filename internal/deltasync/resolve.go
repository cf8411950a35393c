package deltasync

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/viperarr/viperarr/internal/store"
)

// leetMap substitutes the digits users commonly type in place of letters.
// The table is deliberate and stable: persisted title lookups depend on it,
// so changing an entry invalidates existing matches.
var leetMap = map[rune]rune{
	'1': 'i',
	'0': 'o',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'8': 'b',
}

// NormalizeTitle lowercases, substitutes leetspeak digits, and strips
// everything outside [a-z0-9]. Idempotent: normalizing twice is a no-op.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		if sub, ok := leetMap[r]; ok {
			r = sub
		}
		if unicode.IsLower(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// resolveShowKey picks the velocity key for a show: the show's rating key
// when the event carries one, otherwise a 32-bit hash of the title. The hash
// fallback is a compatibility hazard (collisions, rename drift), so every
// use is logged.
func (s *Service) resolveShowKey(grandparentRatingKey, showTitle string) string {
	if grandparentRatingKey != "" {
		return grandparentRatingKey
	}
	h := fnv.New32a()
	h.Write([]byte(showTitle))
	key := fmt.Sprintf("hash-%d", h.Sum32())
	s.logger.Warn().
		Str("showTitle", showTitle).
		Str("showKey", key).
		Msg("no show rating key on watch event, falling back to title hash")
	return key
}

// resolveTmdbID finds the TMDB id for a library item using three methods in
// order: external ids from the media server, exact title match against
// requests and watchlist, then a leetspeak-normalized fuzzy match against
// the same titles. Returns 0 when nothing matches.
func (s *Service) resolveTmdbID(ctx context.Context, item store.LibraryItem) (int64, error) {
	if item.TmdbID > 0 {
		return item.TmdbID, nil
	}

	requests, err := s.store.FindRequestsByTitle(ctx, item.Title, item.MediaType)
	if err != nil {
		return 0, err
	}
	if len(requests) > 0 {
		return requests[0].TmdbID, nil
	}
	entries, err := s.store.FindWatchlistByTitle(ctx, item.Title, item.MediaType)
	if err != nil {
		return 0, err
	}
	if len(entries) > 0 {
		return entries[0].TmdbID, nil
	}

	want := NormalizeTitle(item.Title)
	if want == "" {
		return 0, nil
	}

	openRequests, err := s.store.ListOpenRequests(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range openRequests {
		if r.MediaType == item.MediaType && NormalizeTitle(r.Title) == want {
			s.logger.Debug().
				Str("title", item.Title).
				Str("matchedTitle", r.Title).
				Int64("tmdbId", r.TmdbID).
				Msg("resolved tmdb id via fuzzy request match")
			return r.TmdbID, nil
		}
	}

	watchlist, err := s.store.ListActiveWatchlist(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range watchlist {
		if e.MediaType == item.MediaType && NormalizeTitle(e.Title) == want {
			s.logger.Debug().
				Str("title", item.Title).
				Str("matchedTitle", e.Title).
				Int64("tmdbId", e.TmdbID).
				Msg("resolved tmdb id via fuzzy watchlist match")
			return e.TmdbID, nil
		}
	}

	return 0, nil
}
