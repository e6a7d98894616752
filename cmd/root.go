package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/wBridge/cmd/catalog"
	"github.com/ValentinKolb/wBridge/cmd/msg"
	"github.com/ValentinKolb/wBridge/cmd/serve"
	"github.com/ValentinKolb/wBridge/cmd/util"
	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/spf13/cobra"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "wbridge",
		Short: "catalog rpc over a message server",
		Long: fmt.Sprintf(`wBridge (v%s)

A request/reply bridge over the NATS text protocol. It serves a
versioned resource catalog to remote callers and retries ambiguous
writes without applying them twice.`, common.Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			return common.InitLoggers(level)
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of wBridge",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wBridge v%s\n", common.Version)
		},
	}
)

func init() {
	// run the log setup of the root command before the hooks of the command groups
	cobra.EnableTraverseRunHooks = true

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(catalog.CatalogCommands)
	RootCmd.AddCommand(msg.MsgCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
