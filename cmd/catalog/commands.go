package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ValentinKolb/wBridge/lib/catalog"
	"github.com/spf13/cobra"
)

var (
	createParent string
	createFacets []string
	linkName     string
	query        catalog.QueryDesc
	queryFacets  []string
	findLimit    int
	findOffset   int
)

var (
	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a catalog object",
	}
	createCollectionCmd = &cobra.Command{
		Use:   "collection [name]",
		Short: "Creates a collection (top level without --parent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			facets, err := parseFacets(createFacets)
			if err != nil {
				return err
			}
			id, err := rpcCatalog.CreateCollection(cmd.Context(), catalog.Collection{
				Parent: createParent,
				Name:   args[0],
				Facets: facets,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	createItemCmd = &cobra.Command{
		Use:   "item [itemType] [variant]",
		Short: "Creates an item in the collection given by --parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			facets, err := parseFacets(createFacets)
			if err != nil {
				return err
			}
			id, err := rpcCatalog.CreateItem(cmd.Context(), catalog.Item{
				Parent:   createParent,
				ItemType: args[0],
				Variant:  args[1],
				Facets:   facets,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	createVersionCmd = &cobra.Command{
		Use:   "version",
		Short: "Creates the next version of the item given by --parent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			facets, err := parseFacets(createFacets)
			if err != nil {
				return err
			}
			id, number, err := rpcCatalog.CreateVersion(cmd.Context(), catalog.Version{
				Parent: createParent,
				Facets: facets,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s number=%d\n", id, number)
			return nil
		},
	}
	createResourceCmd = &cobra.Command{
		Use:   "resource [resourceType] [name] [location]",
		Short: "Creates a resource on the version given by --parent",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			facets, err := parseFacets(createFacets)
			if err != nil {
				return err
			}
			id, err := rpcCatalog.CreateResource(cmd.Context(), catalog.Resource{
				Parent:       createParent,
				ResourceType: args[0],
				Name:         args[1],
				Location:     args[2],
				Facets:       facets,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	createLinkCmd = &cobra.Command{
		Use:   "link [src] [dst]",
		Short: "Creates a link between two items or two versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			facets, err := parseFacets(createFacets)
			if err != nil {
				return err
			}
			id, err := rpcCatalog.CreateLink(cmd.Context(), catalog.Link{
				Src:    args[0],
				Dst:    args[1],
				Name:   linkName,
				Facets: facets,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	findCmd = &cobra.Command{
		Use:       "find [collections|items|versions|resources|links]",
		Short:     "Finds catalog objects matching the query flags and prints them as json",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"collections", "items", "versions", "resources", "links"},
		RunE: func(cmd *cobra.Command, args []string) error {
			facets, err := parseFacets(queryFacets)
			if err != nil {
				return err
			}
			q := query
			q.Facets = facets
			queries := []catalog.QueryDesc{q}

			var result any
			ctx := cmd.Context()
			switch args[0] {
			case "collections":
				result, err = rpcCatalog.FindCollections(ctx, queries, findLimit, findOffset)
			case "items":
				result, err = rpcCatalog.FindItems(ctx, queries, findLimit, findOffset)
			case "versions":
				result, err = rpcCatalog.FindVersions(ctx, queries, findLimit, findOffset)
			case "resources":
				result, err = rpcCatalog.FindResources(ctx, queries, findLimit, findOffset)
			case "links":
				result, err = rpcCatalog.FindLinks(ctx, queries, findLimit, findOffset)
			default:
				return fmt.Errorf("unknown object kind %s", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	deleteCmd = &cobra.Command{
		Use:       "delete [collection|item|version|resource] [id]",
		Short:     "Deletes a catalog object and everything below it",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"collection", "item", "version", "resource"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var err error
			switch args[0] {
			case "collection":
				err = rpcCatalog.DeleteCollection(ctx, args[1])
			case "item":
				err = rpcCatalog.DeleteItem(ctx, args[1])
			case "version":
				err = rpcCatalog.DeleteVersion(ctx, args[1])
			case "resource":
				err = rpcCatalog.DeleteResource(ctx, args[1])
			default:
				return fmt.Errorf("unknown object kind %s", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}
	publishCmd = &cobra.Command{
		Use:   "publish [versionId]",
		Short: "Marks a version as the published version of its item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcCatalog.PublishVersion(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("published successfully")
			return nil
		},
	}
	publishedCmd = &cobra.Command{
		Use:   "published [itemId]",
		Short: "Prints the published version of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := rpcCatalog.GetPublishedVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if v == nil {
				fmt.Println("no published version")
				return nil
			}
			return printJSON(v)
		},
	}
	facetsCmd = &cobra.Command{
		Use:   "facets [collection|item|version|resource|link] [id] [key=value...]",
		Short: "Merges facets into the facets of a catalog object",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			facets, err := parseFacets(args[2:])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			switch args[0] {
			case "collection":
				err = rpcCatalog.UpdateCollectionFacets(ctx, args[1], facets)
			case "item":
				err = rpcCatalog.UpdateItemFacets(ctx, args[1], facets)
			case "version":
				err = rpcCatalog.UpdateVersionFacets(ctx, args[1], facets)
			case "resource":
				err = rpcCatalog.UpdateResourceFacets(ctx, args[1], facets)
			case "link":
				err = rpcCatalog.UpdateLinkFacets(ctx, args[1], facets)
			default:
				return fmt.Errorf("unknown object kind %s", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println("updated successfully")
			return nil
		},
	}
)

func init() {
	createCmd.AddCommand(createCollectionCmd)
	createCmd.AddCommand(createItemCmd)
	createCmd.AddCommand(createVersionCmd)
	createCmd.AddCommand(createResourceCmd)
	createCmd.AddCommand(createLinkCmd)

	createCmd.PersistentFlags().StringVar(&createParent, "parent", "", "Id of the parent object")
	createCmd.PersistentFlags().StringSliceVar(&createFacets, "facet", nil, "Facet of the new object as key=value (repeatable)")
	createLinkCmd.Flags().StringVar(&linkName, "name", "", "Name of the link")

	f := findCmd.Flags()
	f.StringVar(&query.Id, "id", "", "Match the object id")
	f.StringVar(&query.Parent, "parent", "", "Match the parent id")
	f.IntVar(&query.VersionNumber, "version-number", 0, "Match the version number")
	f.StringVar(&query.ItemType, "item-type", "", "Match the item type")
	f.StringVar(&query.Variant, "variant", "", "Match the item variant")
	f.StringVar(&query.Name, "name", "", "Match the name")
	f.StringVar(&query.ResourceType, "resource-type", "", "Match the resource type")
	f.StringVar(&query.Location, "location", "", "Match the resource location")
	f.StringVar(&query.LinkSrc, "link-src", "", "Match the link source")
	f.StringVar(&query.LinkDst, "link-dst", "", "Match the link destination")
	f.StringSliceVar(&queryFacets, "facet", nil, "Match a facet given as key=value (repeatable)")
	f.IntVar(&findLimit, "limit", catalog.DefaultQueryLimit, "Maximum number of results")
	f.IntVar(&findOffset, "offset", 0, "Number of results to skip")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
