// runnerchat - streaming chat client and hardware monitor for a local model server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"

	"github.com/jeranaias/runnerchat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	// Commands install their own interrupt handling: chat needs Ctrl+C to
	// stop an answer rather than exit.
	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
}
