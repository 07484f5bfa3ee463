package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	configDir string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "carevoice",
	Short: "CareVoice - voice-interactive health assistant",
	Long: `CareVoice runs a health assistant session in the terminal.

Typed lines are sent as chat messages. While voice input is active the
next line is treated as the recognized transcript, unless a Deepgram key
is configured, in which case the microphone is streamed for live
recognition.

Configuration:
  The assistant reads config.yaml from --config-dir
  (default is $HOME/.carevoice) and .env files found there.

Environment Variables:
  CAREVOICE_INFERENCE_URL        - Assistant message endpoint
  CAREVOICE_INFERENCE_TOKEN      - Bearer token for the endpoint
  CAREVOICE_STT_DEEPGRAM_API_KEY - Enables live recognition
  CAREVOICE_STT_WHISPER_API_KEY  - Enables fallback transcription
  CAREVOICE_TTS_API_KEY          - Enables OpenAI speech output`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default is $HOME/.carevoice)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "mirror logs to stderr")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
