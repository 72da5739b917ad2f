// gchat lets you converse with Grok by editing a plain-text document. It
// watches the chat file, sends the pending prompt when you save, and appends
// the response, ready for your next edit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/youruser/gchat/internal/config"
	"github.com/youruser/gchat/internal/convo"
	"github.com/youruser/gchat/internal/document"
	"github.com/youruser/gchat/internal/exchange"
	"github.com/youruser/gchat/internal/expand"
	"github.com/youruser/gchat/internal/llm"
	"github.com/youruser/gchat/internal/notify"
	"github.com/youruser/gchat/internal/project"
	"github.com/youruser/gchat/internal/session"
	"github.com/youruser/gchat/internal/watch"
)

const version = "0.2.0"

// debounce gives the editor time to finish writing before a cycle reads.
const debounce = 500 * time.Millisecond

type options struct {
	ChatFile    string   `short:"f" long:"chat-file" description:"Chat document to watch"`
	Root        string   `long:"root" description:"Project root for @f/@d placeholders"`
	TokenLevel  *int     `short:"t" long:"token-level" description:"Default max-tokens level (0-5)"`
	Temperature *float64 `short:"p" long:"temperature" description:"Default sampling temperature"`
	APITimeout  *int     `short:"T" long:"api-timeout" description:"API timeout in seconds"`
	Config      string   `short:"c" long:"config" default:"gchat.json" description:"Config file path"`
	NoBell      bool     `long:"no-bell" description:"Disable the terminal bell"`
	Verbose     bool     `short:"v" long:"verbose" description:"Enable debug logging"`
	Version     bool     `long:"version" description:"Print version and exit"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(1)
	}
	if opts.Version {
		fmt.Printf("gchat %s\n", version)
		return
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	if opts.Verbose {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	// Optional .env for XAI_API_KEY.
	_ = godotenv.Load()

	if err := run(opts); err != nil {
		log.Error().Err(err).Msg("gchat exited")
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	resolver, err := project.NewResolver(cfg.ProjectRoot)
	if err != nil {
		return err
	}

	if err := ensureChatFile(cfg.ChatFile); err != nil {
		return err
	}

	fmt.Println("Running with settings:")
	fmt.Printf("  Chat file:    %s\n", cfg.ChatFile)
	fmt.Printf("  Project root: %s\n", resolver.Root())
	fmt.Printf("  Model:        %s\n", cfg.Model)
	fmt.Printf("  Token level:  L%d (%d tokens)\n", cfg.TokenLevel, expand.LevelTokens(cfg.TokenLevel))
	fmt.Printf("  Temperature:  %g\n", cfg.Temperature)
	fmt.Printf("  API timeout:  %ds\n", cfg.APITimeout)

	expander := expand.New(resolver)
	builder := convo.New(expander, cfg.TokenLevel, cfg.Temperature)
	client := llm.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.RequestTimeout())
	orch := exchange.New(client, expander, resolver, exchange.Options{
		AutoIncreaseTokens: cfg.AutoIncreaseTokens,
		AutoFileRequests:   cfg.AutoFileRequests,
	})
	sess := session.New(cfg.ChatFile, builder, orch, notify.NewConsole(!opts.NoBell))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cycle := func() bool {
		committed, err := sess.Process(ctx)
		if err != nil {
			log.Error().Err(err).Msg("processing error")
		}
		return committed
	}

	// Process whatever is pending before watching.
	cycle()

	watcher, err := watch.New(cfg.ChatFile, debounce)
	if err != nil {
		return err
	}
	defer watcher.Close()

	log.Info().Str("file", cfg.ChatFile).Msg("watching for changes")
	if err := watcher.Run(ctx, cycle); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// loadConfig layers command-line flags over the config file and defaults.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.ChatFile != "" {
		cfg.ChatFile = opts.ChatFile
	}
	if opts.Root != "" {
		cfg.ProjectRoot = opts.Root
	}
	if opts.TokenLevel != nil {
		cfg.TokenLevel = *opts.TokenLevel
	}
	if opts.Temperature != nil {
		cfg.Temperature = *opts.Temperature
	}
	if opts.APITimeout != nil {
		cfg.APITimeout = *opts.APITimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureChatFile creates the chat document with an empty user section when it
// does not exist yet.
func ensureChatFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.WriteFile(path, []byte(document.Initial()), 0644); err != nil {
		return err
	}
	fmt.Printf("Created chat file at %s. Start your conversation by adding your prompt under %q and saving.\n",
		path, document.UserMarker)
	return nil
}
