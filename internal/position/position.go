// Package position encodes a (season, episode) pair into a single comparable
// integer: season*100 + episode. All position comparisons across the engine
// use this encoding, which caps episodes at 99 per season.
package position

import "fmt"

// EpisodesPerSeason is the encoding base. Episode numbers must be below it.
const EpisodesPerSeason = 100

// Encode converts a season/episode pair into a velocity position.
// Episode numbers at or beyond the encoding base are rejected.
func Encode(season, episode int) (int, error) {
	if season < 0 || episode < 0 {
		return 0, fmt.Errorf("invalid position s%de%d: negative component", season, episode)
	}
	if episode >= EpisodesPerSeason {
		return 0, fmt.Errorf("invalid position s%de%d: episode number %d exceeds encoding range", season, episode, episode)
	}
	return season*EpisodesPerSeason + episode, nil
}

// Decode splits a velocity position back into its season/episode pair.
func Decode(pos int) (season, episode int) {
	return pos / EpisodesPerSeason, pos % EpisodesPerSeason
}
