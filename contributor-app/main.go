package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/zkceremony/contributor/contributor-app/config"
	"github.com/zkceremony/contributor/log"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "zkceremony-contributor",
		Short: "Phase 2 ceremony contributor",
		Long:  banner + "\n\nA contributor client for Phase 2 zKey trusted-setup ceremonies.",
	}

	contributeCmd = &cobra.Command{
		Use:   "contribute <ceremony-id>",
		Short: "Contribute to every circuit of a ceremony",
		Args:  cobra.ExactArgs(1),
		RunE:  runContribute,
	}

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Store a GitHub token for the contribution session",
		RunE:  runLogin,
	}

	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored session",
		RunE:  runLogout,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List open ceremonies",
		RunE:  runList,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}
)

const banner = `
███████╗██╗  ██╗ ██████╗███████╗██████╗ ███████╗███╗   ███╗ ██████╗ ███╗   ██╗██╗   ██╗
╚══███╔╝██║ ██╔╝██╔════╝██╔════╝██╔══██╗██╔════╝████╗ ████║██╔═══██╗████╗  ██║╚██╗ ██╔╝
  ███╔╝ █████╔╝ ██║     █████╗  ██████╔╝█████╗  ██╔████╔██║██║   ██║██╔██╗ ██║ ╚████╔╝
 ███╔╝  ██╔═██╗ ██║     ██╔══╝  ██╔══██╗██╔══╝  ██║╚██╔╝██║██║   ██║██║╚██╗██║  ╚██╔╝
███████╗██║  ██╗╚██████╗███████╗██║  ██║███████╗██║ ╚═╝ ██║╚██████╔╝██║ ╚████║   ██║
╚══════╝╚═╝  ╚═╝ ╚═════╝╚══════╝╚═╝  ╚═╝╚══════╝╚═╝     ╚═╝ ╚═════╝ ╚═╝  ╚═══╝   ╚═╝`

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	rootCmd.AddCommand(contributeCmd, loginCmd, logoutCmd, listCmd, versionCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config",
		"contributor-app/configs/config.yaml", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// Coordination flags
	rootCmd.PersistentFlags().String("coordination-url", "", "coordination store base URL")
	rootCmd.PersistentFlags().String("coordination-ws-url", "", "coordination change-feed websocket URL")

	// Ops server flags
	rootCmd.PersistentFlags().String("listen-addr", "", "operational HTTP listen address")
	rootCmd.PersistentFlags().Bool("metrics", false, "enable metrics endpoint")

	loginCmd.Flags().String("token", "", "GitHub OAuth token (prompted when omitted)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	return cfg, nil
}

func runContribute(cmd *cobra.Command, args []string) error {
	fmt.Println(banner)
	fmt.Println()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := log.New(cfg.Log.Level, cfg.Log.Pretty)

	logger.Info().
		Str("version", Version).
		Str("go_version", runtime.Version()).
		Str("config_file", cfgFile).
		Str("coordination_url", cfg.Coordination.BaseURL).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")

	application, err := NewApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context(), args[0])
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	token, _ := cmd.Flags().GetString("token")
	return login(cmd.Context(), cfg, token, cmd.InOrStdin(), cmd.OutOrStdout())
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return logout(cfg, cmd.OutOrStdout())
}

func runList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return listCeremonies(cmd.Context(), cfg, cmd.OutOrStdout())
}

func runVersion(*cobra.Command, []string) {
	fmt.Println(banner)
	fmt.Println()
	fmt.Printf("zkCeremony Contributor\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flag("log-level").Changed {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flag("log-pretty").Changed {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}

	if cmd.Flag("coordination-url").Changed {
		cfg.Coordination.BaseURL, _ = cmd.Flags().GetString("coordination-url")
	}
	if cmd.Flag("coordination-ws-url").Changed {
		cfg.Coordination.WSURL, _ = cmd.Flags().GetString("coordination-ws-url")
	}

	if cmd.Flag("listen-addr").Changed {
		cfg.API.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
	}
	if cmd.Flag("metrics").Changed {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}
}
