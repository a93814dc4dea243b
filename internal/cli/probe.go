// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/runnerchat/internal/config"
	"github.com/jeranaias/runnerchat/internal/detect"
)

const probeLongDesc = `Take one hardware sample and print it.

On macOS this runs powermetrics (through "sudo -n" unless
hardware.powermetrics_sudo is false), ps and lsof. On hosts with an NVIDIA
GPU it runs nvidia-smi and ss (netstat on Windows). Other hosts report zeros.`

type probeCommander struct {
	app     *app
	jsonOut bool
}

// probeOutput is the --json output.
type probeOutput struct {
	Platform string `json:"platform"`
	detect.Snapshot
}

func newProbeCmd(a *app) *cobra.Command {
	cmder := &probeCommander{app: a}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Sample GPU and inference metrics once",
		Long:  probeLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "print JSON")
	return cmd
}

func (c *probeCommander) run(ctx context.Context, out io.Writer) error {
	collector := detect.NewHostCollector(hostOptions(c.app.cfg), c.app.logger)
	snap := collector.Collect(ctx)

	if c.jsonOut {
		return json.NewEncoder(out).Encode(probeOutput{Platform: collector.Platform().String(), Snapshot: snap})
	}

	active := "no"
	if snap.InferenceActive {
		active = SuccessStyle.Render("yes")
	}
	rows := [][2]string{
		{"Platform", collector.Platform().String()},
		{"GPU utilization", fmt.Sprintf("%.1f%%", snap.GPUUtilization)},
		{"GPU memory", fmt.Sprintf("%.1f%%", snap.GPUMemoryUsage)},
		{"Tokens/sec", fmt.Sprintf("%.1f", snap.TokensPerSecond)},
		{"Latency", fmt.Sprintf("%.1f ms/token", snap.Latency)},
		{"Temperature", fmt.Sprintf("%.0f°C", snap.Temperature)},
		{"Inference active", active},
	}
	fmt.Fprintln(out, TitleStyle.Render("Hardware sample"))
	for _, r := range rows {
		fmt.Fprintln(out, LabelStyle.Render(r[0])+ValueStyle.Render(r[1]))
	}
	return nil
}

// hostOptions maps the hardware config section onto the probe options.
func hostOptions(cfg *config.Config) detect.HostOptions {
	h := cfg.Hardware
	return detect.HostOptions{
		ModelPort:        h.ModelPort,
		LlamaLogPath:     h.LlamaLogPath,
		ProcessPattern:   h.ProcessPattern,
		PowermetricsSudo: h.PowermetricsSudo,
		CommandTimeout:   h.CommandTimeout(),
	}
}

// probeTimeout bounds one shared hardware probe: a sample runs at most
// four commands, each under the command timeout.
func probeTimeout(cfg *config.Config) time.Duration {
	return 4 * cfg.Hardware.CommandTimeout()
}
