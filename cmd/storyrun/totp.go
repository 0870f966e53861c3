package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/v0xg/storyrun/internal/auth"
)

func totpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "totp <secret>",
		Short: "Print the current one-time code for a base32 TOTP secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := auth.TOTPCode(args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
}
