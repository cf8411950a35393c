package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viperarr/viperarr/internal/lifecycle"
	"github.com/viperarr/viperarr/internal/store"
)

// The analyzer splits into two independently runnable rules: the episode
// pass over shows and the movie pass. A full run executes both.
const (
	RuleEpisodes = "episodes"
	RuleMovies   = "movies"
)

// ErrUnknownRule is returned for rule ids that do not exist.
var ErrUnknownRule = errors.New("orchestrator: unknown rule")

// Rules lists the runnable rule ids.
func Rules() []string { return []string{RuleEpisodes, RuleMovies} }

// RuleItem is one pending action a rule would take.
type RuleItem struct {
	RatingKey string     `json:"ratingKey,omitempty"`
	Title     string     `json:"title"`
	Season    int        `json:"season,omitempty"`
	Episode   int        `json:"episode,omitempty"`
	Reason    string     `json:"reason"`
	Priority  string     `json:"priority,omitempty"`
	NeededBy  *time.Time `json:"neededBy,omitempty"`
}

// RulePreview is what a rule would do right now, without doing it.
type RulePreview struct {
	Rule        string     `json:"rule"`
	Timestamp   time.Time  `json:"timestamp"`
	Deletions   []RuleItem `json:"deletions"`
	Redownloads []RuleItem `json:"redownloads,omitempty"`
}

// RunRule executes a single rule under the pass lock. The rule honors
// dryRun the same way the full pass does.
func (o *Orchestrator) RunRule(ctx context.Context, id string, dryRun bool) error {
	if id != RuleEpisodes && id != RuleMovies {
		return fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}

	return o.withLock("rule:"+id, func() error {
		start := o.now()
		summary := AnalyzerSummary{Timestamp: start.UTC(), DryRun: dryRun}

		settings, err := o.analyzer.Settings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		if !settings.Enabled {
			o.logger.Info().Str("rule", id).Msg("analyzer disabled, skipping rule")
			return nil
		}

		switch id {
		case RuleEpisodes:
			shows, err := o.store.ListLibraryItems(ctx, store.MediaTypeShow)
			if err != nil {
				return fmt.Errorf("list shows: %w", err)
			}
			for _, show := range shows {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := o.analyzeOneShow(ctx, settings, show, dryRun, &summary); err != nil {
					o.logger.Warn().Err(err).Str("show", show.Title).Msg("show analysis failed, continuing")
					summary.Errors++
				}
				summary.ShowsAnalyzed++
				o.pace(ctx)
			}
		case RuleMovies:
			if err := o.moviePass(ctx, settings, dryRun, &summary); err != nil {
				o.logger.Warn().Err(err).Msg("movie pass failed")
				summary.Errors++
			}
		}

		summary.ElapsedMs = time.Since(start).Milliseconds()
		o.logger.Info().
			Str("rule", id).
			Int("episodesDeleted", summary.EpisodesDeleted).
			Int("moviesDeleted", summary.MoviesDeleted).
			Int("redownloadsQueued", summary.RedownloadsQueued).
			Int("errors", summary.Errors).
			Bool("dryRun", dryRun).
			Msg("rule run completed")
		o.broadcast("rule:completed", summary)
		return nil
	})
}

// PreviewRule reports what a rule would delete and queue without acting.
// It reuses the analyzer, so verdicts in the stats tables are refreshed,
// but no file, item, or queue row is touched.
func (o *Orchestrator) PreviewRule(ctx context.Context, id string) (*RulePreview, error) {
	if id != RuleEpisodes && id != RuleMovies {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}

	settings, err := o.analyzer.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	preview := &RulePreview{Rule: id, Timestamp: o.now().UTC()}

	switch id {
	case RuleEpisodes:
		shows, err := o.store.ListLibraryItems(ctx, store.MediaTypeShow)
		if err != nil {
			return nil, fmt.Errorf("list shows: %w", err)
		}
		for _, show := range shows {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err := o.previewShow(ctx, settings, show, preview); err != nil {
				o.logger.Warn().Err(err).Str("show", show.Title).Msg("show preview failed, continuing")
			}
		}
	case RuleMovies:
		movies, err := o.store.ListLibraryItems(ctx, store.MediaTypeMovie)
		if err != nil {
			return nil, fmt.Errorf("list movies: %w", err)
		}
		for _, movie := range movies {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			verdict := o.analyzer.AnalyzeMovie(ctx, settings, movie)
			if verdict.SafeToDelete {
				preview.Deletions = append(preview.Deletions, RuleItem{
					RatingKey: movie.RatingKey,
					Title:     movie.Title,
					Reason:    verdict.Reason,
				})
			}
		}
	}

	return preview, nil
}

func (o *Orchestrator) previewShow(ctx context.Context, settings lifecycle.Settings,
	show store.LibraryItem, preview *RulePreview) error {

	episodes, _, err := o.showEpisodes(ctx, show)
	if err != nil {
		return err
	}
	if len(episodes) == 0 {
		return nil
	}

	verdicts, err := o.analyzer.AnalyzeShow(ctx, settings, show, episodes)
	if err != nil {
		return err
	}

	for _, v := range verdicts {
		if v.SafeToDelete {
			preview.Deletions = append(preview.Deletions, RuleItem{
				RatingKey: v.RatingKey,
				Title:     show.Title,
				Season:    v.Season,
				Episode:   v.Number,
				Reason:    v.Reason,
			})
		}
		if !settings.RedownloadEnabled || !v.NeedsRedownload {
			continue
		}
		priority := store.PriorityNormal
		if v.NeedsEmergency(settings) {
			priority = store.PriorityEmergency
		} else if !settings.ProactiveRedownload {
			continue
		}
		neededBy := v.RedownloadBy
		preview.Redownloads = append(preview.Redownloads, RuleItem{
			Title:    show.Title,
			Season:   v.Season,
			Episode:  v.Number,
			Reason:   v.Reason,
			Priority: string(priority),
			NeededBy: &neededBy,
		})
	}
	return nil
}
