package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/flyingMooncake/nft-Chess/internal/app"
	"github.com/flyingMooncake/nft-Chess/internal/chess"
	"github.com/flyingMooncake/nft-Chess/internal/config"
	"github.com/flyingMooncake/nft-Chess/internal/signer"
)

type connectFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts app.Options) (*app.App, error)

type cli struct {
	configPath    string
	logFormat     string
	debug         bool
	keyEnv        string
	keystore      string
	passphraseEnv string
	units         bool
	dryRun        bool
	listen        string

	connect connectFunc
	// readPassword prompts for the keystore passphrase.
	readPassword func(prompt string) (string, error)
	logOut       io.Writer
}

func newCLI() *cli {
	return &cli{
		connect:      app.New,
		readPassword: promptPassword,
		logOut:       os.Stderr,
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "chessctl",
		Short:         "Client for the chess token and game contracts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to YAML config file")
	flags.StringVar(&c.logFormat, "log-format", "", "log format: text or json (overrides config)")
	flags.BoolVar(&c.debug, "debug", false, "enable debug logging")
	flags.StringVar(&c.keyEnv, "key-env", "", "environment variable holding the hex private key")
	flags.StringVar(&c.keystore, "keystore", "", "encrypted keystore file to sign with")
	flags.StringVar(&c.passphraseEnv, "passphrase-env", "", "environment variable holding the keystore passphrase")
	flags.BoolVar(&c.units, "units", false, "read amounts as whole tokens instead of base units")
	flags.BoolVar(&c.dryRun, "dry-run", false, "sign transactions without broadcasting them")

	root.AddCommand(
		c.balanceCmd(),
		c.allowanceCmd(),
		c.approveCmd(),
		c.transferCmd(),
		c.createGameCmd(),
		c.joinGameCmd(),
		c.activeGamesCmd(),
		c.journalCmd(),
		c.serveCmd(),
	)
	return root
}

func (c *cli) loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	if c.listen != "" {
		cfg.API.Listen = c.listen
	}
	format := cfg.Log.Format
	if c.logFormat != "" {
		format = c.logFormat
	}
	level := parseLevel(cfg.Log.Level)
	if c.debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(c.logOut, opts)
	case "", "text":
		handler = slog.NewTextHandler(c.logOut, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}
	return cfg, slog.New(handler), nil
}

// open loads the config and connects to the node.
func (c *cli) open(ctx context.Context) (*app.App, *config.Config, error) {
	cfg, logger, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := c.connect(ctx, cfg, logger, app.Options{DryRun: c.dryRun})
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func (c *cli) identity(cfg *config.Config) (*signer.Identity, error) {
	if c.keystore != "" {
		name := c.passphraseEnv
		if name == "" {
			name = cfg.KeyStore.PassphraseEnv
		}
		pass, ok := os.LookupEnv(name)
		if !ok {
			var err error
			pass, err = c.readPassword(fmt.Sprintf("Passphrase for %s: ", c.keystore))
			if err != nil {
				return nil, fmt.Errorf("read passphrase: %w", err)
			}
		}
		return signer.IdentityFromKeystore(c.keystore, pass)
	}
	name := c.keyEnv
	if name == "" {
		name = cfg.KeyStore.PrivateKeyEnv
	}
	key := strings.TrimSpace(os.Getenv(name))
	if key == "" {
		return nil, fmt.Errorf("no signing key: set %s or pass --keystore", name)
	}
	return signer.IdentityFromHex(key)
}

func (c *cli) amount(ctx context.Context, svc *chess.Service, s string) (*big.Int, error) {
	var decimals uint8
	if c.units {
		d, err := svc.Decimals(ctx)
		if err != nil {
			return nil, err
		}
		decimals = d
	}
	return chess.ParseAmount(s, decimals, c.units)
}

func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
