package catalog

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/wBridge/cmd/util"
	"github.com/ValentinKolb/wBridge/lib/catalog"
	"github.com/ValentinKolb/wBridge/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcCatalog catalog.ICatalog

	// CatalogCommands represents the catalog command group
	CatalogCommands = &cobra.Command{
		Use:               "catalog",
		Short:             "Perform catalog operations on a remote responder",
		PersistentPreRunE: setupCatalogClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the catalog command
	util.SetupRPCClientFlags(CatalogCommands)

	// Add subcommands
	CatalogCommands.AddCommand(createCmd)
	CatalogCommands.AddCommand(findCmd)
	CatalogCommands.AddCommand(deleteCmd)
	CatalogCommands.AddCommand(publishCmd)
	CatalogCommands.AddCommand(publishedCmd)
	CatalogCommands.AddCommand(facetsCmd)
	CatalogCommands.AddCommand(perfTestCmd)
}

// setupCatalogClient initializes the RPC catalog client
func setupCatalogClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration
	config := util.GetClientConfig()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the catalog client
	rpcCatalog, err = client.NewRPCCatalog(
		*config,
		t,
		s,
	)

	return err
}

// parseFacets parses a list of key=value pairs
func parseFacets(pairs []string) (catalog.Facets, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	facets := make(catalog.Facets, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid facet %q (expected key=value)", pair)
		}
		facets[k] = v
	}
	return facets, nil
}
