// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/runnerchat/internal/config"
)

type configCommander struct {
	app   *app
	force bool
}

func newConfigCmd(a *app) *cobra.Command {
	cmder := &configCommander{app: a}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, locate, create or validate the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(a.cfg)
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.configFile()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.init(cmd)
		},
	}
	initCmd.Flags().BoolVarP(&cmder.force, "force", "f", false, "overwrite an existing file")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// PersistentPreRunE already refused an invalid file.
			p, _ := a.configFile()
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("OK")+" "+p)
			return nil
		},
	}

	cmd.AddCommand(show, path, initCmd, validate)
	return cmd
}

func (c *configCommander) init(cmd *cobra.Command) error {
	p, err := c.app.configFile()
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil && !c.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", p)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := config.SaveTo(config.Default(), p); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "wrote "+p)
	return nil
}
