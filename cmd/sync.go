package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Sync reconciles one user, or every linked user with --all.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("all") {
		return r.syncAll(ctx, int(cmd.Int("workers")))
	}

	userID, err := requireArg(cmd, "user")
	if err != nil {
		return err
	}

	if cmd.Bool("tui") {
		return r.TUI(ctx, userID)
	}

	if err := r.openEngine(); err != nil {
		return err
	}
	return r.syncOne(ctx, userID)
}

// syncOne runs a reconciliation for userID, printing progress as it arrives.
func (r *Runner) syncOne(ctx context.Context, userID string) error {
	r.writePlainHeader(fmt.Sprintf("Syncing liked tracks for %s", userID))

	progress := make(chan tasks.ProgressUpdate, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range progress {
			if update.Phase == tasks.Finished {
				continue
			}
			r.writePlain("  %s\n", update.Message)
		}
	}()

	result, err := r.engine.Sync(ctx, userID, progress)
	close(progress)
	wg.Wait()

	if err != nil {
		return fmt.Errorf("sync failed for %s: %w", userID, err)
	}

	c := result.Counts
	r.writePlainln("✓ %d tracks mirrored (+%d added, ~%d updated, -%d removed) in %d batches",
		c.Total, c.Added, c.Updated, c.Removed, result.Batches)
	return nil
}

func (r *Runner) syncAll(ctx context.Context, workers int) error {
	if err := r.openEngine(); err != nil {
		return err
	}

	userIDs, err := r.tokenDB.ListUserIDs(ctx)
	if err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return r.writePlain("No linked accounts. Run 'likesync link' first.\n")
	}
	if workers <= 0 {
		workers = r.config.Sync.Workers
	}

	outcomes := r.engine.SyncAll(ctx, userIDs, workers)

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			r.writePlain("✗ %s: %v\n", o.UserID, o.Err)
			continue
		}
		c := o.Result.Counts
		r.writePlain("✓ %s: %d tracks (+%d ~%d -%d)\n", o.UserID, c.Total, c.Added, c.Updated, c.Removed)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d syncs failed", failed, len(outcomes))
	}
	return nil
}

// Like likes a track on Spotify and mirrors it.
func (r *Runner) Like(ctx context.Context, cmd *cli.Command) error {
	return r.apply(ctx, cmd, models.ActionLike)
}

// Unlike unlikes a track on Spotify and removes it from the mirror.
func (r *Runner) Unlike(ctx context.Context, cmd *cli.Command) error {
	return r.apply(ctx, cmd, models.ActionUnlike)
}

func (r *Runner) apply(ctx context.Context, cmd *cli.Command, action models.Action) error {
	userID, err := requireArg(cmd, "user")
	if err != nil {
		return err
	}
	trackID, err := requireArg(cmd, "track")
	if err != nil {
		return err
	}
	if err := r.openEngine(); err != nil {
		return err
	}

	result, err := r.updates.Apply(ctx, userID, trackID, action)
	if err != nil {
		return err
	}

	if !result.Mirrored() {
		r.writePlain("⚠ %s applied on Spotify but the local mirror was not updated: %v\n", action, result.MirrorErr)
		return r.writePlain("  The next sync will repair it.\n")
	}

	if action == models.ActionLike {
		if result.Item != nil {
			return r.writePlain("✓ Liked %s - %s\n", result.Item.Artist, result.Item.Title)
		}
		return r.writePlain("✓ Liked %s\n", trackID)
	}
	return r.writePlain("✓ Unliked %s\n", trackID)
}

// Migrate moves the user's legacy liked songs into the mirror.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	userID, err := requireArg(cmd, "user")
	if err != nil {
		return err
	}
	if err := r.openStore(); err != nil {
		return err
	}

	result, err := r.migrator.Migrate(ctx, userID)
	if err != nil {
		return fmt.Errorf("migration failed for %s: %w", userID, err)
	}

	r.writePlain("✓ %s\n", result.Message)
	if result.Invalid > 0 {
		r.writePlain("⚠ %d legacy rows have no track id and were left in place\n", result.Invalid)
	}
	return nil
}
