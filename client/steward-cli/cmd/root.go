package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	v           = viper.New()
	envReplacer = strings.NewReplacer("-", "_")
)

var rootCmd = &cobra.Command{
	Use:   "steward-cli",
	Short: "A CLI client for the Steward chief-of-staff services",
	Long: `A command-line interface for dispatching requests, reviewing task output,
uploading and searching voice notes, and watching task events in real time.

Settings are read from flags, STEWARD_* environment variables, or $HOME/.steward.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.steward.yaml)")
	pf.String("server", "http://localhost:8080", "Steward API base URL")
	pf.String("token", "", "JWT bearer token")
	pf.String("api-key", "", "API key, used when no token is set")
	pf.Duration("timeout", 30*time.Second, "HTTP request timeout")
	pf.Bool("json", false, "print raw JSON instead of formatted output")

	for _, name := range []string{"server", "token", "api-key", "timeout", "json"} {
		_ = v.BindPFlag(name, pf.Lookup(name))
	}
}

// initConfig 读取配置文件和环境变量。配置文件不存在时只使用参数和环境变量。
func initConfig() error {
	v.SetEnvPrefix("STEWARD")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".steward")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

func newClient() *apiClient {
	return newAPIClient(v.GetString("server"), v.GetString("token"), v.GetString("api-key"), v.GetDuration("timeout"))
}

func rawJSON() bool {
	return v.GetBool("json")
}
