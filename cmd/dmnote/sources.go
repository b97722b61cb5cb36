package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DmNote-App/DmNote/internal/config"
	"github.com/DmNote-App/DmNote/internal/input"
)

func newPipeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pipe",
		Short: "Read key edges (D:<key> / U:<key>) from stdin",
		Long: `pipe reads one edge per line from stdin, as printed by a keyboard hook:

    D:KeyA
    U:KeyA@4key

It exits when stdin is closed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := cmd.InOrStdin()
			return run(cmd, opts, true, func(ctx context.Context, _ config.Config, handle input.Handler) error {
				return readUntilDone(ctx, r, handle)
			})
		},
	}
}

// readUntilDone returns when r is exhausted or ctx is done. A read blocked
// on a terminal cannot be interrupted, so it is left to finish on its own.
func readUntilDone(ctx context.Context, r io.Reader, handle input.Handler) error {
	errc := make(chan error, 1)
	go func() { errc <- input.ReadLines(ctx, r, handle, slog.Default()) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return nil
	}
}

func newMIDICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "midi",
		Short: "Follow the preferred MIDI input; notes are keyed by pitch (C4, F#3)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, false, func(ctx context.Context, cfg config.Config, handle input.Handler) error {
				w, err := input.NewMIDIWatcher(input.MIDIOptions{
					Preferred: cfg.Input.MIDI.Preferred,
					Excluded:  cfg.Input.MIDI.Excluded,
					Mode:      cfg.Input.Mode,
				}, input.KeyMap(cfg.Input.MIDI.Keys).Filter(handle), slog.Default())
				if err != nil {
					return err
				}
				defer w.Close()
				slog.Info("midi: waiting for device", "preferred", strings.Join(cfg.Input.MIDI.Preferred, ","))
				return w.Run(ctx)
			})
		},
	}
}

func newSerialCmd(opts *rootOptions) *cobra.Command {
	var (
		device string
		baud   int
		list   bool
	)
	cmd := &cobra.Command{
		Use:   "serial",
		Short: "Read key frames from a serial keypad",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				ports, err := input.Ports()
				if err != nil {
					return err
				}
				for _, p := range ports {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			}
			return run(cmd, opts, false, func(ctx context.Context, cfg config.Config, handle input.Handler) error {
				sc := cfg.Input.Serial
				if device != "" {
					sc.Device = device
				}
				if baud > 0 {
					sc.Baud = baud
				}
				src, err := input.OpenSerial(sc.Device, sc.Baud, sc.Keys, slog.Default())
				if err != nil {
					return err
				}
				defer src.Close()
				return src.Run(ctx, handle)
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "serial device, overrides input.serial.device")
	cmd.Flags().IntVar(&baud, "baud", 0, "baud rate, overrides input.serial.baud")
	cmd.Flags().BoolVar(&list, "list", false, "list serial ports and exit")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	var defaults bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default().Normalize()
			if !defaults {
				var err error
				if cfg, err = loadConfig(opts.configPath); err != nil {
					return err
				}
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&defaults, "default", false, "print the built-in defaults")
	return cmd
}
