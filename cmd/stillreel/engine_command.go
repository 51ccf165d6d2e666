package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newEngineCommand(ctx *commandContext) *cobra.Command {
	engineCmd := &cobra.Command{
		Use:   "engine",
		Short: "Inspect the encoding engine",
	}
	engineCmd.AddCommand(newEngineCheckCommand(ctx))
	return engineCmd
}

func newEngineCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the configured engine and report its capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.newServices(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer svc.close()

			if _, err := svc.lifecycle.EnsureReady(cmd.Context()); err != nil {
				return err
			}

			caps := svc.lifecycle.Capabilities()
			state, _ := svc.lifecycle.State()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Engine:  %s\n", caps.Name)
			fmt.Fprintf(out, "Version: %s\n", caps.Version)
			fmt.Fprintf(out, "Formats: %s\n", upperCase.String(strings.Join(caps.Formats, ", ")))
			fmt.Fprintf(out, "State:   %s\n", state)
			return nil
		},
	}
}
