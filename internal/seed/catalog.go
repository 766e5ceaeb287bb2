// Package seed loads the festival catalog into an empty backend
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"festtix/internal/models"
	"festtix/internal/repository"
)

var ist = time.FixedZone("IST", 5*60*60+30*60)

func at(day, hour int) time.Time {
	return time.Date(2026, time.August, day, hour, 0, 0, 0, ist)
}

// Catalog is the festival line-up
func Catalog() []models.CreateEventRequest {
	return []models.CreateEventRequest{
		{Title: "Battle of Bands", Category: "Music", Description: "Live band competition with top college bands from across the country.", StartsAt: at(15, 18), Venue: "Main Stage", Capacity: 2000, Duration: "3 hours", Emoji: "🎸"},
		{Title: "Dance War", Category: "Dance", Description: "Solo, duo, and group dance competition across classical and contemporary styles.", StartsAt: at(15, 14), Venue: "Dance Arena", Capacity: 800, Duration: "4 hours", Emoji: "💃"},
		{Title: "Code Storm", Category: "Tech", Description: "24-hour hackathon with exciting problem statements and industry mentors.", StartsAt: at(16, 9), Venue: "Tech Hub", Capacity: 400, Duration: "24 hours", Emoji: "💻"},
		{Title: "Rangoli Royale", Category: "Art", Description: "Traditional art competition showcasing intricate designs and creativity.", StartsAt: at(16, 10), Venue: "Art Pavilion", Capacity: 200, Duration: "3 hours", Emoji: "🎨"},
		{Title: "Stand-up Nite", Category: "Comedy", Description: "Comedy night featuring student comedians and special celebrity guest.", StartsAt: at(16, 20), Venue: "Comedy Club", Capacity: 600, Duration: "2 hours", Emoji: "🎤"},
		{Title: "Fashion Fiesta", Category: "Fashion", Description: "Runway fashion show celebrating cultural couture and modern design.", StartsAt: at(17, 16), Venue: "Fashion Hall", Capacity: 1000, Duration: "2 hours", Emoji: "👗"},
		{Title: "Slam Poetry", Category: "Literature", Description: "Express yourself through powerful spoken word performances.", StartsAt: at(15, 16), Venue: "Literary Lounge", Capacity: 300, Duration: "2 hours", Emoji: "📖"},
		{Title: "Cricket Clash", Category: "Sports", Description: "Inter-college T20 cricket tournament with massive prize money.", StartsAt: at(15, 8), Venue: "Sports Ground", Capacity: 5000, Duration: "8 hours", Emoji: "🏏"},
	}
}

// Indexer receives the full catalog after seeding
type Indexer interface {
	IndexAll(ctx context.Context, events []models.Event) error
}

type Options struct {
	// AdminID, when set, is given the admin role
	AdminID string
	DryRun  bool
	Index   Indexer
}

// Result counts what Run did
type Result struct {
	Created int
	Skipped int
}

// Run inserts every catalog event whose title is not present yet, so it is
// safe to run repeatedly
func Run(ctx context.Context, repos *repository.Repositories, opts Options) (Result, error) {
	var result Result

	existing, err := repos.Events.List(ctx, "")
	if err != nil {
		return result, fmt.Errorf("failed to list events: %w", err)
	}
	titles := make(map[string]bool, len(existing))
	for _, e := range existing {
		titles[strings.ToLower(e.Title)] = true
	}

	for _, req := range Catalog() {
		if titles[strings.ToLower(req.Title)] {
			result.Skipped++
			continue
		}
		if opts.DryRun {
			slog.Info("Would create event", "title", req.Title, "capacity", req.Capacity)
			result.Created++
			continue
		}
		event, err := repos.Events.Create(ctx, &req)
		if err != nil {
			return result, fmt.Errorf("failed to create %q: %w", req.Title, err)
		}
		slog.Info("Created event", "event_id", event.ID, "title", event.Title)
		result.Created++
	}

	if opts.DryRun {
		return result, nil
	}

	if opts.AdminID != "" {
		if _, err := repos.Profiles.SetRole(ctx, opts.AdminID, models.RoleAdmin); err != nil {
			return result, fmt.Errorf("failed to grant admin to %s: %w", opts.AdminID, err)
		}
		slog.Info("Granted admin role", "user_id", opts.AdminID)
	}

	if opts.Index != nil {
		events, err := repos.Events.List(ctx, "")
		if err != nil {
			return result, fmt.Errorf("failed to list events for indexing: %w", err)
		}
		if err := opts.Index.IndexAll(ctx, events); err != nil {
			return result, fmt.Errorf("failed to index catalog: %w", err)
		}
		slog.Info("Indexed catalog", "events", len(events))
	}

	return result, nil
}
