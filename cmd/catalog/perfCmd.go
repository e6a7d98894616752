package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/wBridge/cmd/util"
	"github.com/ValentinKolb/wBridge/lib/catalog"
	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for catalog responders",
		Long:    "Runs a set of benchmarks against a responder. All objects are created below a fresh top level collection that is deleted afterwards.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfItemSpread = 100
	perfSkip       = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. create,find)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "items"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different items to use for the read and update tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfItemSpread = max(1, viper.GetInt("items"))
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for catalog responders")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	// every run works below its own collection
	root, err := rpcCatalog.CreateCollection(ctx, catalog.Collection{Name: "__perf-" + uuid.NewString()})
	if err != nil {
		return fmt.Errorf("failed to create perf collection: %w", err)
	}
	defer func() {
		if err := rpcCatalog.DeleteCollection(context.Background(), root); err != nil {
			log.Printf("error deleting perf collection: %v\n", err)
		}
	}()

	items, err := prepareItems(ctx, root)
	if err != nil {
		return err
	}

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	createResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("create") {
			return
		}

		var counter atomic.Int64

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				name := fmt.Sprintf("create-%d", counter.Add(1))
				_, err := rpcCatalog.CreateCollection(ctx, catalog.Collection{Parent: root, Name: name})
				if err != nil {
					log.Printf("(create) - error creating collection: %v\n", err)
				}
			}
		})
	})

	results["create"] = createResult
	printResult("create", createResult)

	findResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("find") {
			return
		}

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				_, err := rpcCatalog.FindItems(ctx, []catalog.QueryDesc{{Id: items[counter%len(items)]}}, 1, 0)
				if err != nil {
					log.Printf("(find) - error finding item: %v\n", err)
				}
				counter++
			}
		})
	})

	results["find"] = findResult
	printResult("find", findResult)

	facetsResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("facets") {
			return
		}

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				facets := catalog.Facets{"counter": strconv.Itoa(counter)}
				if err := rpcCatalog.UpdateItemFacets(ctx, items[counter%len(items)], facets); err != nil {
					log.Printf("(facets) - error updating facets: %v\n", err)
				}
				counter++
			}
		})
	})

	results["facets"] = facetsResult
	printResult("facets", facetsResult)

	publishedResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("published") {
			return
		}

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, err := rpcCatalog.GetPublishedVersion(ctx, items[counter%len(items)]); err != nil {
					log.Printf("(published) - error getting published version: %v\n", err)
				}
				counter++
			}
		})
	})

	results["published"] = publishedResult
	printResult("published", publishedResult)

	mixedUsageResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				item := items[counter%len(items)]
				var err error
				switch counter % 4 {
				case 0: // create version
					_, _, err = rpcCatalog.CreateVersion(ctx, catalog.Version{Parent: item})
				case 1: // find
					_, err = rpcCatalog.FindVersions(ctx, []catalog.QueryDesc{{Parent: item}}, 10, 0)
				case 2: // update
					err = rpcCatalog.UpdateItemFacets(ctx, item, catalog.Facets{"mixed": "true"})
				case 3: // published
					_, err = rpcCatalog.GetPublishedVersion(ctx, item)
				}

				if err != nil {
					log.Printf("(mixed) - error performing operation (%d): %v\n", counter%4, err)
				}
				counter++
			}
		})
	})

	results["mixed"] = mixedUsageResult
	printResult("mixed", mixedUsageResult)

	// Write results to csv if a path is given
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// prepareItems creates the items used by the read and update tests, each with a published version
func prepareItems(ctx context.Context, root string) ([]string, error) {
	items := make([]string, perfItemSpread)
	for i := range items {
		id, err := rpcCatalog.CreateItem(ctx, catalog.Item{Parent: root, ItemType: "perf", Variant: strconv.Itoa(i)})
		if err != nil {
			return nil, fmt.Errorf("failed to prepare item: %w", err)
		}
		versionId, _, err := rpcCatalog.CreateVersion(ctx, catalog.Version{Parent: id})
		if err != nil {
			return nil, fmt.Errorf("failed to prepare version: %w", err)
		}
		if err := rpcCatalog.PublishVersion(ctx, versionId); err != nil {
			return nil, fmt.Errorf("failed to publish version: %w", err)
		}
		items[i] = id
	}
	return items, nil
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Transport", "Threads", "Items",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfItemSpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
