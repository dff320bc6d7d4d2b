package main

import (
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/xraph/rewind/id"
)

var signalsCmd = &cobra.Command{
	Use:   "signals <session-id>",
	Short: "Print rage clicks, scroll milestones and errors for a session as JSON",
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

		rep, err := rw.SessionSignals(cmd.Context(), sid)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signalsCmd)
}
