package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/common"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/value"
	"github.com/google/uuid"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for sKV stores",
		Long:    "Runs in-memory access benchmarks and measures flush and save latency against the configured backing store.",
		Args:    cobra.NoArgs,
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix  = "__perf"
	perfNumThreads = 10
	perfKeySpread  = 100
	perfRounds     = 20
	perfSkip       = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get,flush)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the access benchmarks"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "rounds"
	perfTestCmd.Flags().Int(key, 20, util.WrapString("How many flush and save rounds to measure"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfRounds = viper.GetInt("rounds")
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	if perfKeySpread <= 0 || perfNumThreads <= 0 || perfRounds <= 0 {
		return fmt.Errorf("keys, threads and rounds must be positive")
	}
	return nil
}

// result is the outcome of one test
type result struct {
	nsPerOp float64
	p99     float64
	skipped bool
}

func run(cmd *cobra.Command, _ []string) error {
	conf, err := util.GetStoreConfig()
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for sKV stores")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Threads: %d, Keys: %d, Rounds: %d\n", perfNumThreads, perfKeySpread, perfRounds)
	fmt.Println()

	ctx := cmd.Context()
	runID := uuid.New().String()[:8]
	slot := fmt.Sprintf("%s-%s", perfKeyPrefix, runID)

	s, err := util.OpenStore(ctx, conf, slot)
	if err != nil {
		return err
	}
	defer func() {
		cleanup(ctx, s, slot)
		_ = s.Close(ctx)
	}()

	fmt.Println("staring tests...")
	results := make(map[string]result)

	for _, scope := range []store.Scope{store.ScopeGlobal, store.ScopeSave} {
		for _, name := range []string{"set", "get", "delete", "has", "mixed"} {
			test := fmt.Sprintf("%s-%s", name, scope)
			if shouldSkip(name) || shouldSkip(test) {
				results[test] = result{skipped: true}
				printResult(test, results[test])
				continue
			}
			results[test] = benchAccess(s, scope, name, runID)
			printResult(test, results[test])
		}
	}

	if shouldSkip("flush") {
		results["flush"] = result{skipped: true}
	} else {
		results["flush"] = measure(perfRounds, func(i int) error {
			fill(s, store.ScopeGlobal, runID, float64(i))
			return s.Flush(ctx)
		})
	}
	printResult("flush", results["flush"])

	if shouldSkip("save") {
		results["save"] = result{skipped: true}
	} else {
		results["save"] = measure(perfRounds, func(i int) error {
			fill(s, store.ScopeSave, runID, float64(i))
			return s.OnSave(ctx, slot)
		})
	}
	printResult("save", results["save"])

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, conf); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// benchAccess runs one in-memory access benchmark
func benchAccess(s *store.Store, scope store.Scope, name, runID string) result {
	getKey := keys(name, runID)
	fill(s, scope, runID, 0)

	res := testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				var err error
				op := name
				if name == "mixed" {
					op = []string{"set", "get", "delete", "has"}[counter%4]
				}
				switch op {
				case "set":
					err = s.Set(scope, key, value.String("test"))
				case "get":
					_, _, err = s.Get(scope, key)
				case "delete":
					_, err = s.Delete(scope, key)
				case "has":
					_, err = s.Exists(scope, key)
				}
				if err != nil {
					fmt.Printf("(%s) - error: %v\n", name, err)
				}
				counter++
			}
		})
	})

	if res.N == 0 {
		return result{skipped: true}
	}
	return result{nsPerOp: float64(res.NsPerOp())}
}

// measure times rounds calls of fn with a go-metrics timer
func measure(rounds int, fn func(i int) error) result {
	timer := gometrics.NewTimer()
	for i := 0; i < rounds; i++ {
		start := time.Now()
		if err := fn(i); err != nil {
			fmt.Printf("round %d failed: %v\n", i, err)
			continue
		}
		timer.UpdateSince(start)
	}
	if timer.Count() == 0 {
		return result{skipped: true}
	}
	return result{nsPerOp: timer.Mean(), p99: timer.Percentile(0.99)}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// keys returns a function to get a test key by index (with wraparound)
func keys(prefix, runID string) func(int) string {
	all := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		all[i] = fmt.Sprintf("%s-%s-%s-%d", perfKeyPrefix, runID, prefix, i)
	}
	return func(i int) string {
		return all[i%perfKeySpread]
	}
}

// fill writes all data keys of the run, marking the partition dirty
func fill(s *store.Store, scope store.Scope, runID string, n float64) {
	getKey := keys("data", runID)
	for i := 0; i < perfKeySpread; i++ {
		if err := s.Set(scope, getKey(i), value.Number(n)); err != nil {
			fmt.Printf("(fill) - error: %v\n", err)
			return
		}
	}
}

// cleanup removes all keys written by the run
func cleanup(ctx context.Context, s *store.Store, slot string) {
	for _, scope := range []store.Scope{store.ScopeGlobal, store.ScopeSave} {
		entries, err := s.All(scope)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Key, perfKeyPrefix) {
				_, _ = s.Delete(scope, e.Key)
			}
		}
	}
	if err := s.OnSave(ctx, slot); err != nil {
		fmt.Printf("(cleanup) - error: %v\n", err)
	}
}

// printResult prints the result of a test in a formatted way
func printResult(test string, r result) {
	if r.skipped {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(r.nsPerOp, 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	if r.p99 > 0 {
		fmt.Printf("%-20s%.0fns/op (%s/op, p99 %s)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), time.Duration(r.p99), opsPerSec)
		return
	}
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]result, conf *common.StoreConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "P99Ns", "OpsPerSec", "Skipped",
		"Engine", "Database", "BatchSize", "Threads", "Keys Count", "Rounds",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, r := range results {
		var nsPerOp, opsPerSec float64
		if !r.skipped {
			nsPerOp = math.Max(r.nsPerOp, 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", r.p99),
			fmt.Sprintf("%.0f", opsPerSec),
			strconv.FormatBool(r.skipped),
			conf.Engine,
			conf.DBPath,
			strconv.Itoa(conf.BatchSize),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfRounds),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
