package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hokuto/pressbeat/config"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `Display the effective pressbeat configuration.

Configuration sources (in order of precedence):
1. Environment variables (PRESSBEAT_* prefix)
2. Project config (./pressbeat.toml, searches up directories)
3. User config (~/.pressbeat/config.toml)
4. System config (/etc/pressbeat/config.toml)
5. Default values

Examples:
  pressbeat config show                 # Show current configuration
  pressbeat config show --format json   # Show configuration as JSON
  pressbeat config get database.path    # Get a specific value`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, schedule.cadence_minutes)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Never print credentials
	display := *cfg
	if display.Publisher.Password != "" {
		display.Publisher.Password = "********"
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(display, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(display)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# pressbeat configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(display)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# pressbeat configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := config.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	if key == "publisher.password" {
		fmt.Println("********")
		return nil
	}

	fmt.Println(v.Get(key))
	return nil
}
