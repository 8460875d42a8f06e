// Package main provides a CLI for inspecting the detection rule table and
// validating configuration.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"golang.org/x/crypto/bcrypt"

	"threatsense/internal/alerting"
	"threatsense/internal/config"
	"threatsense/internal/detect"
	"threatsense/internal/schema"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "rules":
		runRules()
	case "params":
		runParams(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "hash-key":
		runHashKey(os.Args[2:])
	case "-version", "--version", "-v":
		fmt.Printf("threatsense-rules %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: threatsense-rules <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  rules     Print the event type to detection rule routing table\n")
	fmt.Fprintf(os.Stderr, "  params    Print effective detection thresholds\n")
	fmt.Fprintf(os.Stderr, "  validate  Validate a configuration file\n")
	fmt.Fprintf(os.Stderr, "  hash-key  Produce a bcrypt hash for an API key\n")
}

func runRules() {
	ruleset := detect.NewRuleset(nil, nil, detect.DefaultParams(), nil)
	registry := detect.BuildRegistry(ruleset)
	matrix := alerting.DefaultRoutes()

	types := make([]string, 0, len(matrix))
	for t := range matrix {
		types = append(types, string(t))
	}
	sort.Strings(types)

	fmt.Printf("%-30s %-10s %s\n", "EVENT TYPE", "DOMAIN", "RULES")
	for _, t := range types {
		eventType := schema.EventType(t)
		rules := registry.RuleNames(eventType)
		ruleList := "-"
		if len(rules) > 0 {
			ruleList = ""
			for i, name := range rules {
				if i > 0 {
					ruleList += ", "
				}
				ruleList += name
			}
		}
		fmt.Printf("%-30s %-10s %s\n", t, matrix[eventType], ruleList)
	}
}

func runParams(args []string) {
	fs := flag.NewFlagSet("params", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (defaults to THREATSENSE_CONFIG_PATH)")
	fs.Parse(args)

	if *configPath != "" {
		os.Setenv("THREATSENSE_CONFIG_PATH", *configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	p := cfg.Detection
	fmt.Printf("brute_force_ip:    threshold=%d window=%s severity=%s\n",
		p.BruteForceIP.Threshold, p.BruteForceIP.Window, p.BruteForceIP.Severity)
	fmt.Printf("brute_force_user:  threshold=%d window=%s severity=%s\n",
		p.BruteForceUser.Threshold, p.BruteForceUser.Window, p.BruteForceUser.Severity)
	fmt.Printf("travel_window:     %s\n", p.TravelWindow)
	fmt.Printf("new_device:        severity=%s\n", p.NewDeviceSeverity)
	fmt.Printf("rate_limit_window: %s\n", p.RateLimitWindow)
	fmt.Printf("query_timeout:     %s\n", p.QueryTimeout)
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	if *configPath != "" {
		os.Setenv("THREATSENSE_CONFIG_PATH", *configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func runHashKey(args []string) {
	fs := flag.NewFlagSet("hash-key", flag.ExitOnError)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: threatsense-rules hash-key [-cost N] <plaintext>\n")
		os.Exit(1)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(fs.Arg(0)), *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}
