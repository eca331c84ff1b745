package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "groupplay",
	Short: "Watch together from the terminal",
	Long: `groupplay joins a shared playback room and keeps a local player in
lockstep with everyone else in it. Control messages travel directly
between members over WebRTC data channels; the room server only brokers
the introductions.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
