package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"
)

// printHistory shows the recent runs of a map and the clans of the newest
// successful one, read straight from the history database.
func printHistory(mapID string) int {
	mgr, err := connectHistoryDB()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer mgr.Close()

	store := newHistoryStore(mgr)
	ctx := context.Background()

	runs, err := store.Runs(ctx, mapID, 10)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("Last %d runs of %s:\n", len(runs), mapID)
	for _, r := range runs {
		status := "ok"
		if !r.Success {
			status = "failed: " + r.Error
		}
		fmt.Printf("  %s  %7.1fms  pieces=%d clans=%d players=%d dropped=%d  %s\n",
			r.Time.Local().Format(time.DateTime), r.DurationMs, r.Pieces, r.Clans, r.Players, r.DroppedPlayers, status)
	}

	clans, err := store.LatestClans(ctx, mapID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	ids := make([]int64, 0, len(clans))
	for id := range clans {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	fmt.Printf("Clans of the latest successful run:\n")
	for _, id := range ids {
		c := clans[id]
		for _, b := range c.Bases {
			fmt.Printf("  %-8d %-32s (%.0f, %.0f, %.0f) pieces=%d members=%d\n",
				c.ID, c.Name, b.X, b.Y, b.Z, b.Count, len(c.Players))
		}
	}
	return 0
}
