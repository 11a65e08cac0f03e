package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/media-resource-loader/internal/crypto"
)

func main() {
	var (
		serverURL      = flag.String("url", "http://localhost:8090", "Media loader base URL")
		resource       = flag.String("resource", "", "Media resource name served under /media/")
		duration       = flag.Duration("duration", 30*time.Second, "Test duration")
		workers        = flag.Int("workers", 4, "Number of concurrent seeking clients")
		qps            = flag.Int("qps", 5, "Seeks per second per worker")
		maxRange       = flag.Int64("max-range", 4*1024*1024, "Largest range requested in bytes")
		plainFile      = flag.String("plaintext", "", "Plaintext copy of the resource for content verification")
		encryptedFile  = flag.String("encrypted", "", "Encrypted resource to decrypt locally for verification (needs -password)")
		password       = flag.String("password", "", "Password for -encrypted")
		algorithm      = flag.String("algorithm", crypto.AlgorithmAESCTR, "Cipher algorithm for -encrypted")
		baselineDir    = flag.String("baseline-dir", "testdata/baselines", "Directory for baseline files")
		threshold      = flag.Float64("threshold", 10.0, "Regression threshold percentage")
		updateBaseline = flag.Bool("update-baseline", false, "Update baseline files instead of checking regression")
		verbose        = flag.Bool("verbose", false, "Enable verbose logging")
	)

	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	if *resource == "" {
		log.Fatal("-resource is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	plaintext, err := loadPlaintext(*plainFile, *encryptedFile, *password, *algorithm)
	if err != nil {
		log.Fatalf("Failed to load verification data: %v", err)
	}

	if err := os.MkdirAll(*baselineDir, 0755); err != nil {
		log.Fatalf("Failed to create baseline directory: %v", err)
	}

	url := fmt.Sprintf("%s/media/%s", *serverURL, *resource)
	fmt.Println("=== Media Loader Seek Storm ===")
	fmt.Printf("URL: %s\n", url)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Workers: %d\n", *workers)
	fmt.Printf("QPS per Worker: %d\n", *qps)
	fmt.Printf("Verification: %v\n", plaintext != nil)
	fmt.Println()

	results, err := RunStorm(ctx, StormConfig{
		URL:       url,
		Workers:   *workers,
		Duration:  *duration,
		QPS:       *qps,
		MaxRange:  *maxRange,
		Plaintext: plaintext,
	}, logger)
	if err != nil {
		log.Fatalf("Seek storm failed: %v", err)
	}
	PrintResults(results)
	fmt.Println()

	exitCode := 0
	if results.Mismatches > 0 {
		fmt.Println("❌ Delivered bytes did not match the plaintext")
		exitCode = 1
	}

	baselineFile := filepath.Join(*baselineDir, "seek_storm_baseline.json")
	if *updateBaseline {
		if err := SaveBaseline(baselineFile, results); err != nil {
			log.Fatalf("Failed to save baseline: %v", err)
		}
		fmt.Println("✅ Baseline updated")
		os.Exit(exitCode)
	}

	regression, err := AnalyzeRegression(results, baselineFile, *threshold)
	switch {
	case os.IsNotExist(err):
		fmt.Println("ℹ️  No baseline found - run with --update-baseline to create one")
	case err != nil:
		log.Printf("Regression analysis failed: %v", err)
		exitCode = 1
	default:
		fmt.Printf("p95 latency change: %+.1f%%\n", regression.LatencyP95Change)
		fmt.Printf("Throughput change:  %+.1f%%\n", regression.ThroughputChange)
		if regression.Significant {
			fmt.Println("❌ Significant regression detected")
			exitCode = 1
		}
	}

	if exitCode == 0 {
		fmt.Println("✅ Seek storm passed")
	}
	os.Exit(exitCode)
}

// loadPlaintext returns the reference plaintext, reading it directly or
// decrypting the encrypted resource with the default key derivation.
func loadPlaintext(plainFile, encryptedFile, password, algorithm string) ([]byte, error) {
	if plainFile != "" {
		return os.ReadFile(plainFile)
	}
	if encryptedFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(encryptedFile)
	if err != nil {
		return nil, err
	}
	params := crypto.DefaultParams()
	params.Algorithm = algorithm
	c, err := crypto.NewCipher(password, params)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(data, 0)
}
