package serve

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/wBridge/cmd/util"
	"github.com/ValentinKolb/wBridge/lib/catalog/local"
	"github.com/ValentinKolb/wBridge/lib/embedded"
	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/ValentinKolb/wBridge/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the catalog responder",
		Long:    `Start the catalog responder with the specified configuration. The responder connects to a message server (or starts an embedded one) and answers catalog requests from an in-memory catalog. The configuration can be set via command line flags or environment variables. The format of the environment variables is WBRIDGE_<flag> (e.g. WBRIDGE_QUEUE_GROUP=catalog)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitClientConfig)

	// connection flags shared with the client commands
	cmdUtil.SetupRPCClientFlags(ServeCmd)

	// add flags
	key := "queue-group"
	ServeCmd.PersistentFlags().String(key, common.DefaultQueueGroup, cmdUtil.WrapString("Queue group used to load balance requests across responders"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, 8, cmdUtil.WrapString("Number of requests handled concurrently. Requests beyond 4x this number are rejected"))

	key = "embedded"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Start an in-process message server and connect to it instead of --transport-endpoints"))

	key = "embedded-host"
	ServeCmd.PersistentFlags().String(key, "127.0.0.1", cmdUtil.WrapString("(Embedded Mode) The address the embedded message server listens on"))

	key = "embedded-port"
	ServeCmd.PersistentFlags().Int(key, 4222, cmdUtil.WrapString("(Embedded Mode) The port the embedded message server listens on (-1 picks a free port)"))

	key = "metrics"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address to serve prometheus metrics on (e.g. :9090), empty disables the endpoint"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Client = *cmdUtil.GetClientConfig()
	serveCmdConfig.QueueGroup = strings.TrimSpace(viper.GetString("queue-group"))
	serveCmdConfig.Workers = viper.GetInt("workers")
	serveCmdConfig.Embedded = viper.GetBool("embedded")
	serveCmdConfig.EmbeddedHost = viper.GetString("embedded-host")
	serveCmdConfig.EmbeddedPort = viper.GetInt("embedded-port")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return nil
}

// run starts the catalog responder and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetTransport()
	if err != nil {
		return err
	}

	if serveCmdConfig.Embedded {
		ns, err := embedded.Start(serveCmdConfig.EmbeddedHost, serveCmdConfig.EmbeddedPort)
		if err != nil {
			return err
		}
		defer embedded.Stop(ns)
		serveCmdConfig.Client.Transport.Endpoints = []string{ns.ClientURL()}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
		local.NewLocalCatalog(),
	)

	return serv.Serve(ctx)
}
