package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/player"
)

var (
	replayAt     time.Duration
	replayNoSkip bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <session-id>",
	Short: "Reconstruct a stored session and describe the page at a point in time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, err := id.ParseSessionID(args[0])
		if err != nil {
			return err
		}
		rw, done, err := openEngine()
		if err != nil {
			return err
		}
		defer done()

		opts := player.DefaultOptions()
		opts.SkipInactivity = !replayNoSkip
		p, err := rw.NewPlayer(cmd.Context(), sid, opts)
		if err != nil {
			return err
		}

		tl := p.Timeline()
		stats := p.Stats()
		cmd.Printf("Session:   %s\n", sid)
		cmd.Printf("Duration:  %s\n", p.Duration().Round(time.Millisecond))
		cmd.Printf("Playback:  %s (%d idle gaps compressed)\n", tl.PlaybackDuration().Round(time.Millisecond), len(tl.Gaps()))
		cmd.Printf("Events:    %d (%d unrecognized)\n", stats.Events, stats.Unrecognized)

		at := replayAt
		if at <= 0 || at > p.Duration() {
			at = p.Duration()
		}
		f := p.FrameAt(at)
		cmd.Printf("\nFrame at %s\n", at)
		cmd.Printf("  URL:       %s\n", f.URL)
		cmd.Printf("  Viewport:  %dx%d\n", f.Viewport.Width, f.Viewport.Height)
		cmd.Printf("  Scroll:    %.0f%%\n", f.ScrollPercent)
		if f.PointerSeen {
			cmd.Printf("  Pointer:   %.0f,%.0f\n", f.Pointer.X, f.Pointer.Y)
		}
		if !f.HasSnapshot {
			cmd.Println("  No snapshot for this page yet")
		}
		if f.Degraded {
			cmd.Printf("  Degraded:  %d mutations skipped\n", f.SkippedMutations)
		}
		for _, issue := range f.Issues {
			cmd.Printf("  Issue:     %s\n", issue)
		}
		cmd.Printf("  Digest:    %016x\n", f.Hash())
		return nil
	},
}

func init() {
	replayCmd.Flags().DurationVar(&replayAt, "at", 0, "session offset to reconstruct (default: the end)")
	replayCmd.Flags().BoolVar(&replayNoSkip, "no-skip", false, "do not compress idle spans")
	rootCmd.AddCommand(replayCmd)
}
