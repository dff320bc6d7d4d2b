package main

import (
	"github.com/spf13/cobra"

	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/project"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage recording projects and their ingest keys",
}

var projectRetention int

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project and print its ingest key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rw, done, err := openEngine()
		if err != nil {
			return err
		}
		defer done()

		in := project.Input{Name: args[0]}
		if cmd.Flags().Changed("retention-days") {
			in.RetentionDays = &projectRetention
		}
		p, err := rw.Projects().Create(cmd.Context(), in)
		if err != nil {
			return err
		}
		cmd.Printf("Project:    %s\n", p.ID)
		cmd.Printf("Ingest key: %s\n", p.IngestKey)
		return nil
	},
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		rw, done, err := openEngine()
		if err != nil {
			return err
		}
		defer done()

		projects, err := rw.Projects().List(cmd.Context(), project.ListOpts{})
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			cmd.Println("no projects")
			return nil
		}
		for _, p := range projects {
			state := "recording"
			if !p.RecordingEnabled {
				state = "disabled"
			}
			cmd.Printf("%s  %-24s %s  retention=%dd\n", p.ID, p.Name, state, p.RetentionDays)
		}
		return nil
	},
}

var projectsRotateCmd = &cobra.Command{
	Use:   "rotate-key <project-id>",
	Short: "Mint a new ingest key; the old one stops working immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := id.ParseProjectID(args[0])
		if err != nil {
			return err
		}
		rw, done, err := openEngine()
		if err != nil {
			return err
		}
		defer done()

		key, err := rw.Projects().RotateKey(cmd.Context(), pid)
		if err != nil {
			return err
		}
		cmd.Printf("Ingest key: %s\n", key)
		return nil
	},
}

func init() {
	projectsCreateCmd.Flags().IntVar(&projectRetention, "retention-days", 0, "days sessions are kept (0 keeps forever)")
	projectsCmd.AddCommand(projectsCreateCmd, projectsListCmd, projectsRotateCmd)
	rootCmd.AddCommand(projectsCmd)
}
