package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/opd-ai/deliverify"
	"github.com/opd-ai/deliverify/config"
)

// params represents parsed command-line parameters passed to the program.
type params struct {
	ConfigPath  string
	Workers     int
	Messages    int
	RandomNames bool
	DataDir     string
	TimeoutMS   int
	KeepState   bool
	Verbose     bool
}

func main() {
	args := parseArgs(os.Args[1:])

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	if args.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(2)
	}

	// Flags override file configuration.
	if args.Workers > 0 {
		cfg.Workers.Count = args.Workers
	}
	if args.DataDir != "" {
		cfg.DataDir = args.DataDir
	}
	if args.TimeoutMS > 0 {
		cfg.StreamTimeoutMS = args.TimeoutMS
	}
	if args.RandomNames {
		cfg.Workers.RandomNames = true
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("Invalid configuration")
		os.Exit(2)
	}

	harness, err := deliverify.New(&deliverify.Options{
		Logger: log,
		Config: cfg,
	})
	if err != nil {
		log.WithError(err).Error("Failed to assemble harness")
		os.Exit(2)
	}
	defer harness.Teardown(!args.KeepState)

	if _, err := harness.CreateWorkers(cfg.Workers.Count, cfg.Workers.RandomNames); err != nil {
		log.WithError(err).Error("Failed to create workers")
		os.Exit(2)
	}

	result, err := harness.RunMessageScenario(args.Messages)
	if err != nil {
		log.WithError(err).Error("Verification run failed")
		os.Exit(2)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.WithError(err).Error("Failed to encode result")
		os.Exit(2)
	}
	fmt.Println(string(out))

	if !harness.Thresholds().Meets(result.Stats) {
		fmt.Fprintln(os.Stderr, "verification below configured thresholds")
		os.Exit(1)
	}
}

// Parses the command-line arguments and returns them in a params struct.
func parseArgs(args []string) *params {
	app := kingpin.New("deliverify", "Run a message delivery verification scenario against a messaging network.")
	configPath := app.Flag("config", "Path to a YAML configuration file.").Short('c').String()
	workers := app.Flag("workers", "Number of workers in the pool.").Short('w').Int()
	messages := app.Flag("messages", "Number of messages to send and verify.").Short('m').Default("5").Int()
	randomNames := app.Flag("random-names", "Draw worker names randomly instead of in order.").Bool()
	dataDir := app.Flag("data-dir", "Directory for persisted worker state.").String()
	timeoutMS := app.Flag("timeout", "Stream collection timeout in milliseconds.").Int()
	keepState := app.Flag("keep-state", "Keep worker state directories after the run.").Bool()
	verbose := app.Flag("verbose", "Enable debug logging.").Short('v').Bool()

	if _, err := app.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	return &params{
		ConfigPath:  *configPath,
		Workers:     *workers,
		Messages:    *messages,
		RandomNames: *randomNames,
		DataDir:     *dataDir,
		TimeoutMS:   *timeoutMS,
		KeepState:   *keepState,
		Verbose:     *verbose,
	}
}
