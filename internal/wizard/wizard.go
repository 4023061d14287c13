// Package wizard provides an interactive setup wizard for confirmd.
package wizard

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/postalsys/confirmd/internal/config"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Answers holds everything the wizard asks for.
type Answers struct {
	ConfigPath    string
	BindAddress   string
	Ports         string
	SkipInUse     bool
	LogLevel      string
	LogFormat     string
	HealthEnabled bool
	HealthAddress string
}

// DefaultAnswers returns the values the forms start from.
func DefaultAnswers() Answers {
	return Answers{
		ConfigPath:    "./config.yaml",
		Ports:         "9000",
		LogLevel:      "info",
		LogFormat:     "text",
		HealthEnabled: true,
		HealthAddress: ":8080",
	}
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
	out   io.Writer
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
		out:   os.Stdout,
	}
}

// Run executes the interactive setup wizard. configPath pre-fills the
// output path.
func (w *Wizard) Run(configPath string) (*Result, error) {
	w.printBanner()

	answers := DefaultAnswers()
	if configPath != "" {
		answers.ConfigPath = configPath
	}

	if err := w.askBasicSetup(&answers); err != nil {
		return nil, err
	}
	if err := w.askReceiver(&answers); err != nil {
		return nil, err
	}
	if err := w.askAdvancedOptions(&answers); err != nil {
		return nil, err
	}

	cfg, err := BuildConfig(answers)
	if err != nil {
		return nil, err
	}

	if err := WriteConfig(cfg, answers.ConfigPath); err != nil {
		return nil, err
	}

	w.printSummary(answers.ConfigPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: answers.ConfigPath,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
                  __ _                   _
   ___ ___  _ __ / _(_)_ __ _ __ ___   __| |
  / __/ _ \| '_ \ |_| | '__| '_ ` + "`" + ` _ \ / _` + "`" + ` |
 | (_| (_) | | | |  _| | |  | | | | | | (_| |
  \___\___/|_| |_|_| |_|_|  |_| |_| |_|\__,_|
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  UDP Transfer Confirmation Receiver - Setup Wizard\n")

	fmt.Fprintln(w.out, banner)
	fmt.Fprintln(w.out, subtitle)
}

func (w *Wizard) askBasicSetup(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Choose where the configuration is written."),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./config.yaml").
				Value(&a.ConfigPath).
				Validate(validateConfigPath),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askReceiver(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Receiver").
				Description("Every datagram on these ports is answered with a confirmation."),

			huh.NewInput().
				Title("Bind Address").
				Description("Local IP to bind on (empty for all interfaces)").
				Placeholder("0.0.0.0").
				Value(&a.BindAddress).
				Validate(validateBindAddress),

			huh.NewInput().
				Title("Ports").
				Description("Comma-separated UDP ports, e.g. 9000,9001").
				Placeholder("9000").
				Value(&a.Ports).
				Validate(func(s string) error {
					_, err := ParsePorts(s)
					return err
				}),

			huh.NewConfirm().
				Title("Skip ports that are already in use?").
				Description("Otherwise a busy port stops startup").
				Value(&a.SkipInUse),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askAdvancedOptions(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options").
				Description("Configure monitoring and logging."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&a.LogLevel),

			huh.NewSelect[string]().
				Title("Log Format").
				Options(
					huh.NewOption("Text", "text"),
					huh.NewOption("JSON", "json"),
				).
				Value(&a.LogFormat),

			huh.NewConfirm().
				Title("Enable health check endpoint?").
				Description("HTTP endpoint for monitoring (/health, /healthz, /metrics)").
				Value(&a.HealthEnabled),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Health Address").
				Placeholder(":8080").
				Value(&a.HealthAddress),
		).WithHideFunc(func() bool { return !a.HealthEnabled }),
	).WithTheme(w.theme)

	return form.Run()
}

// BuildConfig turns wizard answers into a validated config.
func BuildConfig(a Answers) (*config.Config, error) {
	ports, err := ParsePorts(a.Ports)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	cfg.Log.Level = a.LogLevel
	cfg.Log.Format = a.LogFormat
	cfg.Receiver.BindAddress = strings.TrimSpace(a.BindAddress)
	cfg.Receiver.Ports = ports
	cfg.Receiver.SkipInUse = a.SkipInUse

	cfg.Health.Enabled = a.HealthEnabled
	if a.HealthEnabled && a.HealthAddress != "" {
		cfg.Health.Address = a.HealthAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParsePorts parses a comma-separated port list.
func ParsePorts(s string) ([]int, error) {
	var ports []int
	seen := make(map[int]bool)

	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		port, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", field)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("port %d is out of range 1-65535", port)
		}
		if seen[port] {
			return nil, fmt.Errorf("duplicate port %d", port)
		}
		seen[port] = true
		ports = append(ports, port)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("at least one port is required")
	}
	return ports, nil
}

func validateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

func validateBindAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := netip.ParseAddr(s); err != nil {
		return fmt.Errorf("not an IP address: %s", s)
	}
	return nil
}

// WriteConfig writes cfg as YAML to path, creating parent directories.
func WriteConfig(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# confirmd configuration
# Generated by setup wizard

`
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, divider)
	fmt.Fprintln(w.out, style.Render("✓ Setup Complete!"))
	fmt.Fprintln(w.out, divider)
	fmt.Fprintln(w.out)

	bind := cfg.Receiver.BindAddress
	if bind == "" {
		bind = "all interfaces"
	}

	fmt.Fprintf(w.out, "  Config file:  %s\n", configPath)
	fmt.Fprintf(w.out, "  Bind:         %s\n", bind)
	fmt.Fprintf(w.out, "  Ports:        %v\n", cfg.Receiver.Ports)
	if cfg.Health.Enabled {
		fmt.Fprintf(w.out, "  Health:       http://%s/health\n", cfg.Health.Address)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "  To start the receiver:")
	fmt.Fprintf(w.out, "    confirmd run -c %s\n", configPath)
	fmt.Fprintln(w.out)
}
