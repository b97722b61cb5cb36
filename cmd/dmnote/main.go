// Command dmnote drives the note visualizer from a keyboard hook, a MIDI
// device or a serial keypad.
package main

import (
	"github.com/spf13/cobra"
)

func main() {
	cobra.CheckErr(newRootCmd().Execute())
}

type rootOptions struct {
	configPath string
	debug      bool
	tui        bool
	httpAddr   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "dmnote",
		Short: "Keystroke note visualizer",
		Long: `dmnote turns key presses into notes that grow while a key is held and
scroll off the track once it is released.`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML config file, watched for changes")
	pf.BoolVar(&opts.debug, "debug", false, "enable debug logging (adds source location)")
	pf.BoolVar(&opts.tui, "tui", false, "draw notes in the terminal")
	pf.StringVar(&opts.httpAddr, "http", "", "serve the status API on this address, e.g. :7650")

	root.AddCommand(
		newPipeCmd(opts),
		newMIDICmd(opts),
		newSerialCmd(opts),
		newConfigCmd(opts),
	)
	return root
}
