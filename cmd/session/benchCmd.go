package session

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dMux/cmd/util"
	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// BenchCmd runs the benchmark suites against the endpoint
	BenchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Performance testing tool for the session runtime",
		Long: `Runs benchmark suites through one session: cached reads, batched
requests, immediate requests and a mix of them. Point it at a running
"dmux serve" or use --transport mem --endpoint "" to benchmark against an
in-process mock endpoint.`,
		PreRunE:  processBenchConfig,
		RunE:     runBench,
		PostRunE: teardownClient,
	}
	benchNumThreads  = 10
	benchPayloadSize = 64
	benchSpread      = 100
	benchSkip        = make([]string, 0)
)

// benchSuite is one benchmark, method picks the method of the i-th request
type benchSuite struct {
	name   string
	method func(i int) string
	// distinct requests per suite, 1 makes every request identical
	spread int
}

var benchSuites = []benchSuite{
	{name: "cached", method: func(int) string { return "users.getMe" }, spread: 1},
	{name: "batched", method: func(int) string { return "messages.sendMessage" }},
	{name: "immediate", method: func(int) string { return "auth.signIn" }},
	{name: "media", method: func(int) string { return "upload.saveFilePart" }},
	{name: "mixed", method: func(i int) string {
		return []string{"users.getMe", "messages.sendMessage", "auth.signIn", "photos.getPhotos"}[i%4]
	}},
}

func init() {
	// add flags
	key := "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. cached,mixed)"))
	key = "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "payload-size"
	BenchCmd.Flags().Int(key, 64, util.WrapString("Size of the request payloads (in bytes)"))
	key = "spread"
	BenchCmd.Flags().Int(key, 100, util.WrapString("How many different payloads to use for the tests"))
	key = "latency"
	BenchCmd.Flags().Duration(key, 0, util.WrapString("Latency of the in-process mock endpoint (only with --transport mem)"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	benchPayloadSize = viper.GetInt("payload-size")
	benchSpread = max(1, viper.GetInt("spread"))
	benchNumThreads = max(1, viper.GetInt("threads"))
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	cfg, err := util.GetClientConfig()
	if err != nil {
		return err
	}

	// the mem transport gets an in-process mock endpoint
	if strings.EqualFold(cfg.Transport.Type, "mem") {
		stop, addr, err := startLocalEndpoint(cfg, viper.GetDuration("latency"))
		if err != nil {
			return err
		}
		cobra.OnFinalize(stop)
		cfg.Endpoint = addr
	}

	return startClient(cmd, cfg)
}

func runBench(cmd *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for the dMux session runtime")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(clientConfig.String())
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Println()

	s, err := rpcClient.Session("")
	if err != nil {
		return err
	}

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	for _, suite := range benchSuites {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(suite.name) {
				return
			}

			spread := suite.spread
			if spread == 0 {
				spread = benchSpread
			}
			payloads := makePayloads(spread)

			b.SetParallelism(benchNumThreads)

			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					req := common.NewRequest(suite.method(counter), payloads[counter%spread])
					if _, err := s.Send(context.Background(), req); err != nil {
						log.Printf("(%s) - error sending %s: %v\n", suite.name, req.Method, err)
					}
					counter++
				}
			})
		})

		results[suite.name] = result
		util.PrintResult(suite.name, result)
	}

	fmt.Println(rpcClient.Metrics().String())

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, clientConfig); err != nil {
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
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// makePayloads creates n distinct payloads of the configured size
func makePayloads(n int) [][]byte {
	payloads := make([][]byte, n)
	for i := range payloads {
		p := make([]byte, max(benchPayloadSize, 8))
		copy(p, strconv.Itoa(i))
		payloads[i] = p
	}
	return payloads
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config common.ClientConfig) error {
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
		"Endpoint", "Transport", "Serializer", "MaxConnections",
		"CacheEnabled", "BatchEnabled", "BatchMaxSize", "BatchMaxWait", "CryptoEnabled",
		"Threads", "PayloadSize", "Spread",
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
			config.Endpoint,
			config.Transport.Type,
			config.Transport.Serializer,
			strconv.Itoa(config.Pool.MaxConnections),
			strconv.FormatBool(config.Cache.Enabled),
			strconv.FormatBool(config.Batch.Enabled),
			strconv.Itoa(config.Batch.MaxSize),
			config.Batch.MaxWait.String(),
			strconv.FormatBool(config.Crypto.Enabled),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchPayloadSize),
			strconv.Itoa(benchSpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
