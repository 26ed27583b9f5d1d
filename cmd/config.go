package cmd

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lmroute/gemini-bridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the bridge configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for vendor details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("Gemini Bridge Configuration Setup")
	color.Yellow("Follow the prompts to configure your backend vendor.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nVendor Name (gemini or antigravity): ")
	vendorName, _ := reader.ReadString('\n')
	vendorName = strings.TrimSpace(vendorName)

	fmt.Print("API Base URL (e.g., https://cloudcode-pa.googleapis.com): ")
	baseURL, _ := reader.ReadString('\n')
	baseURL = strings.TrimSpace(baseURL)

	fmt.Print("OAuth Credentials File: ")
	credsFile, _ := reader.ReadString('\n')
	credsFile = strings.TrimSpace(credsFile)

	fmt.Print("Cloud Project ID (optional): ")
	project, _ := reader.ReadString('\n')
	project = strings.TrimSpace(project)

	fmt.Print("Default Model (e.g., gemini-3-pro): ")
	model, _ := reader.ReadString('\n')
	model = strings.TrimSpace(model)

	fmt.Print("Bridge API Key (optional, for client authentication): ")
	bridgeAPIKey, _ := reader.ReadString('\n')
	bridgeAPIKey = strings.TrimSpace(bridgeAPIKey)

	cfg := &config.Config{
		Host:    config.DefaultHost,
		Port:    config.DefaultPort,
		APIKey:  bridgeAPIKey,
		Default: vendorName,
		Vendors: []config.Vendor{
			{
				Name:            vendorName,
				APIBase:         baseURL,
				CredentialsFile: credsFile,
				Project:         project,
				Models:          []string{model},
			},
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the bridge with: %s start", rootCmd.Use)

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run '%s config init' to create one.", rootCmd.Use)
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)

	if cfg.APIKey != "" {
		fmt.Printf("  %-15s: %s\n", "API Key", maskKey(cfg.APIKey))
	}

	if cfg.StorePath != "" {
		fmt.Printf("  %-15s: %s\n", "Store Path", cfg.StorePath)
	}

	fmt.Printf("  %-15s: %s\n", "Default Vendor", cfg.Default)

	for _, vendor := range cfg.Vendors {
		color.Cyan("  Vendor: %s", vendor.Name)
		fmt.Printf("    %-13s: %s\n", "API Base", vendor.APIBase)
		fmt.Printf("    %-13s: %s\n", "Credentials", vendor.CredentialsFile)

		if vendor.Project != "" {
			fmt.Printf("    %-13s: %s\n", "Project", vendor.Project)
		}

		if len(vendor.Models) > 0 {
			fmt.Printf("    %-13s: %s\n", "Models", strings.Join(vendor.Models, ", "))
		}
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found at %s", cfgMgr.GetPath())
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var problems []string

	if len(cfg.Vendors) == 0 {
		problems = append(problems, "no vendors configured")
	}

	for _, vendor := range cfg.Vendors {
		if vendor.Name == "" {
			problems = append(problems, "vendor with empty name")
		}

		if vendor.APIBase == "" {
			problems = append(problems, fmt.Sprintf("vendor %q has no api_base_url", vendor.Name))
		} else if _, err := url.Parse(vendor.APIBase); err != nil {
			problems = append(problems, fmt.Sprintf("vendor %q has invalid api_base_url: %v", vendor.Name, err))
		}

		if vendor.CredentialsFile == "" {
			problems = append(problems, fmt.Sprintf("vendor %q has no credentials_file", vendor.Name))
		}
	}

	if cfg.Default != "" {
		found := false

		for _, vendor := range cfg.Vendors {
			if vendor.Name == cfg.Default {
				found = true
				break
			}
		}

		if !found {
			problems = append(problems, fmt.Sprintf("default vendor %q is not configured", cfg.Default))
		}
	}

	if len(problems) > 0 {
		color.Red("Configuration has %d problem(s):", len(problems))

		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}

		return fmt.Errorf("configuration invalid")
	}

	color.Green("Configuration is valid")

	return nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}

	return key[:4] + "..." + key[len(key)-4:]
}
