package msg

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/wBridge/cmd/util"
	"github.com/ValentinKolb/wBridge/rpc/transport"
	"github.com/spf13/cobra"
)

var (
	rpcTransport transport.IRPCClientTransport
	replyTo      string
	queueGroup   string
	maxMessages  int
	reqTimeout   int

	// MsgCommands represents the raw messaging command group
	MsgCommands = &cobra.Command{
		Use:                "msg",
		Short:              "Publish, subscribe and send requests on raw subjects",
		PersistentPreRunE:  setupTransport,
		PersistentPostRunE: closeTransport,
	}

	// pubCmd represents the publish command
	pubCmd = &cobra.Command{
		Use:   "pub [subject] [payload]",
		Short: "Publish a message",
		Args:  cobra.ExactArgs(2),
		RunE:  runPub,
	}

	// reqCmd represents the request command
	reqCmd = &cobra.Command{
		Use:   "req [subject] [payload]",
		Short: "Send a request and print the reply",
		Args:  cobra.ExactArgs(2),
		RunE:  runReq,
	}

	// subCmd represents the subscribe command
	subCmd = &cobra.Command{
		Use:   "sub [subject]",
		Short: "Print messages delivered on a subject until interrupted",
		Long:  "Subscribe to a subject (wildcards * and > are allowed) and print every message. The command returns after --max messages or on SIGINT.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSub,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add subcommands to msg command
	MsgCommands.AddCommand(pubCmd)
	MsgCommands.AddCommand(reqCmd)
	MsgCommands.AddCommand(subCmd)

	// Add common RPC flags to the msg command
	util.SetupRPCClientFlags(MsgCommands)

	// Add command specific flags
	pubCmd.Flags().StringVar(&replyTo, "reply", "", "Reply subject sent with the message")
	reqCmd.Flags().IntVar(&reqTimeout, "wait", 0, "Seconds to wait for the reply (0 uses --timeout)")
	subCmd.Flags().StringVar(&queueGroup, "queue", "", "Queue group to join")
	subCmd.Flags().IntVar(&maxMessages, "max", 0, "Return after this many messages (0 for no limit)")
}

// setupTransport connects the transport
func setupTransport(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}
	if err := t.Connect(*util.GetClientConfig()); err != nil {
		return err
	}
	rpcTransport = t
	return nil
}

func closeTransport(_ *cobra.Command, _ []string) error {
	if rpcTransport == nil {
		return nil
	}
	return rpcTransport.Close()
}

// runPub handles the publish command
func runPub(cmd *cobra.Command, args []string) error {
	if err := rpcTransport.Publish(args[0], replyTo, []byte(args[1])); err != nil {
		return fmt.Errorf("failed to publish: %v", err)
	}

	// make sure the message left the process before the transport is closed
	if err := rpcTransport.Flush(cmd.Context()); err != nil {
		return fmt.Errorf("failed to flush: %v", err)
	}

	fmt.Println("published")
	return nil
}

// runReq handles the request command
func runReq(cmd *cobra.Command, args []string) error {
	resp, err := rpcTransport.Send(cmd.Context(), args[0], []byte(args[1]), time.Duration(reqTimeout)*time.Second)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}

	fmt.Println(string(resp))
	return nil
}

// runSub handles the subscribe command
func runSub(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// handlers run on the event loop, printing is handed to this goroutine
	messages := make(chan string, 1024)
	received := 0
	handler := func(payload []byte, replyTo, subject string) {
		line := fmt.Sprintf("[%s] %s", subject, payload)
		if replyTo != "" {
			line += fmt.Sprintf(" (reply: %s)", replyTo)
		}
		select {
		case messages <- line:
		default:
			fmt.Fprintln(os.Stderr, "dropping message, output too slow")
		}
	}

	sub, err := rpcTransport.Subscribe(args[0], queueGroup, handler, maxMessages)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %v", err)
	}
	defer func() { _ = rpcTransport.Unsubscribe(sub, 0) }()

	if err := rpcTransport.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush subscription: %v", err)
	}
	fmt.Fprintf(os.Stderr, "listening on %s\n", args[0])

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-messages:
			fmt.Println(line)
			received++
			if maxMessages > 0 && received >= maxMessages {
				return nil
			}
		}
	}
}
