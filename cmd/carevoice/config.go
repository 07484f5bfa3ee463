package main

import (
	"encoding/json"
	"fmt"

	"github.com/normanking/carevoice/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		redacted := *cfg
		redacted.Inference.Token = mask(cfg.Inference.Token)
		redacted.STT.DeepgramAPIKey = mask(cfg.STT.DeepgramAPIKey)
		redacted.STT.WhisperAPIKey = mask(cfg.STT.WhisperAPIKey)
		redacted.TTS.APIKey = mask(cfg.TTS.APIKey)

		data, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, loader, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration in %s: %w", loader.Dir(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration in %s is valid\n", loader.Dir())
		return nil
	},
}

func loadConfig() (*config.Config, *config.Loader, error) {
	loader, err := config.NewLoader(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to locate configuration: %w", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, loader, nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}
