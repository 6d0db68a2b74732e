package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/oarkflow/casevault"
	"github.com/oarkflow/casevault/lock"
)

const mutationLockTTL = 10 * time.Minute

// tenantLocks serializes mutating commands per tenant within this process.
var tenantLocks = lock.NewTenantLocker()

func main() {
	app := &cli.Command{
		Name:    "casevault",
		Usage:   "tenant-isolated encrypted evidence store",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
			},
			&cli.StringFlag{
				Name:    "path",
				Usage:   "store root directory",
				Value:   "./casevault-data",
				Sources: cli.EnvVars("CASEVAULT_PATH"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "logrus level (debug, info, warn, error)",
				Value: "info",
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			tenantCommand(),
			ingestCommand(),
			getCommand(),
			verifyCommand(),
			rotateCommand(),
			keygenCommand(),
			auditCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "casevault: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig merges the config file (if any) with global flags.
func resolveConfig(c *cli.Command) (*casevault.FileConfig, error) {
	if path := c.Root().String("config"); path != "" {
		return casevault.LoadConfig(path)
	}
	root := c.Root().String("path")
	return &casevault.FileConfig{
		Path:    root,
		KeysDir: root + "/keys",
	}, nil
}

func openStore(c *cli.Command) (*casevault.Store, error) {
	cfg, err := resolveConfig(c)
	if err != nil {
		return nil, err
	}

	var explicit []byte
	if cfg.MasterKey != "" {
		explicit, err = casevault.ParseKeyString(cfg.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("config masterKey: %w", err)
		}
	} else if cfg.MasterKeyFile != "" {
		raw, err := os.ReadFile(cfg.MasterKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read master key file: %w", err)
		}
		explicit, err = casevault.ParseKeyString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("master key file: %w", err)
		}
	}

	masterKey, err := casevault.EnsureMasterKey(cfg.KeysDir, explicit)
	if err != nil {
		return nil, err
	}
	keys, err := casevault.NewFileKeyProvider(cfg.KeysDir, masterKey)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(c.Root().String("log-level"))
	if err == nil {
		logger.SetLevel(level)
	}

	return casevault.Open(casevault.Config{
		Path:            cfg.Path,
		Keys:            keys,
		EnvelopeVersion: cfg.EnvelopeVersion,
		Logger:          logger,
	})
}

// withTenantLock runs fn while holding the per-tenant mutation lock.
func withTenantLock(ctx context.Context, tenantID string, fn func() error) error {
	token, err := tenantLocks.Acquire(ctx, tenantID, mutationLockTTL)
	if err != nil {
		return fmt.Errorf("acquire tenant lock: %w", err)
	}
	defer tenantLocks.Release(tenantID, token)
	return fn()
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize the store root",
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			meta, err := store.Metadata()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "store initialized (version %d, created %s)\n",
				meta.Version, meta.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func tenantCommand() *cli.Command {
	return &cli.Command{
		Name:  "tenant",
		Usage: "Tenant operations",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Provision an isolated tenant namespace",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "tenant id", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					store, err := openStore(c)
					if err != nil {
						return err
					}
					tenant := c.String("tenant")
					if err := store.InitTenant(ctx, tenant); err != nil {
						return err
					}
					fmt.Fprintf(c.Root().Writer, "tenant %s initialized\n", tenant)
					return nil
				},
			},
		},
	}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Ingest a case bundle for a tenant",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "tenant id", Required: true},
			&cli.StringFlag{Name: "pack", Aliases: []string{"p"}, Usage: "case bundle directory", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			tenant := c.String("tenant")
			return withTenantLock(ctx, tenant, func() error {
				result, err := store.IngestCasePack(ctx, c.String("pack"), tenant)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.Root().Writer, "ingested pack %s: %d files\n", result.PackID, result.FileCount)
				return nil
			})
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "Retrieve and decrypt one object",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "tenant id", Required: true},
			&cli.StringFlag{Name: "type", Usage: "object type (case, evidence, note, graph/nodes, graph/edges)", Required: true},
			&cli.StringFlag{Name: "id", Usage: "object id", Required: true},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write plaintext to file instead of stdout"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			plaintext, err := store.GetObject(ctx, c.String("tenant"), c.String("type"), c.String("id"))
			if err != nil {
				return err
			}
			if out := c.String("out"); out != "" {
				return os.WriteFile(out, plaintext, 0o600)
			}
			_, err = c.Root().Writer.Write(plaintext)
			return err
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Run a full-tenant integrity scan",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "tenant id", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			report, err := store.VerifyStoreIntegrity(ctx, c.String("tenant"))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "checked %d objects, valid=%v\n", report.CheckedCount, report.Valid)
			for _, event := range report.Errors {
				fmt.Fprintf(c.Root().Writer, "  [%s] %s %s/%s: %s\n",
					event.Severity, event.Kind, event.ObjectType, event.ObjectID, event.Details)
			}
			if !report.Valid {
				return fmt.Errorf("%d tamper events detected", len(report.Errors))
			}
			return nil
		},
	}
}

func rotateCommand() *cli.Command {
	return &cli.Command{
		Name:  "rotate",
		Usage: "Re-encrypt a tenant's objects under a new key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "tenant id", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			tenant := c.String("tenant")
			return withTenantLock(ctx, tenant, func() error {
				result, err := store.RotateKeys(ctx, tenant)
				if result != nil {
					fmt.Fprintf(c.Root().Writer, "rotated %d objects to key %s (%d already current)\n",
						result.Rotated, result.NewKeyID, result.Skipped)
				}
				return err
			})
		},
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Master key utilities",
		Commands: []*cli.Command{
			{
				Name:  "new",
				Usage: "Generate a random 256-bit master key (base64)",
				Action: func(ctx context.Context, c *cli.Command) error {
					key, err := casevault.GenerateKey()
					if err != nil {
						return err
					}
					fmt.Fprintln(c.Root().Writer, base64.StdEncoding.EncodeToString(key))
					return nil
				},
			},
			{
				Name:  "derive",
				Usage: "Derive a master key from a passphrase with Argon2id",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "passphrase", Usage: "passphrase to derive from", Required: true},
					&cli.StringFlag{Name: "salt", Usage: "salt, at least 16 bytes", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					key, err := casevault.DeriveMasterKey([]byte(c.String("passphrase")), []byte(c.String("salt")))
					if err != nil {
						return err
					}
					fmt.Fprintln(c.Root().Writer, base64.StdEncoding.EncodeToString(key))
					return nil
				},
			},
			{
				Name:  "split",
				Usage: "Split a master key into Shamir shares for escrow",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "master key (base64/hex)", Required: true},
					&cli.IntFlag{Name: "shares", Usage: "total shares", Value: 3},
					&cli.IntFlag{Name: "threshold", Usage: "shares needed to reconstruct", Value: 2},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					key, err := casevault.ParseKeyString(c.String("key"))
					if err != nil {
						return err
					}
					shares, err := casevault.SplitMasterKey(key, int(c.Int("threshold")), int(c.Int("shares")))
					if err != nil {
						return err
					}
					for i, share := range shares {
						fmt.Fprintf(c.Root().Writer, "share %d: %s\n", i+1, base64.StdEncoding.EncodeToString(share))
					}
					return nil
				},
			},
			{
				Name:  "combine",
				Usage: "Reconstruct a master key from Shamir shares",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "share", Usage: "base64 share (repeatable)", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					var shares [][]byte
					for _, encoded := range c.StringSlice("share") {
						share, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
						if err != nil {
							return fmt.Errorf("decode share: %w", err)
						}
						shares = append(shares, share)
					}
					key, err := casevault.CombineMasterShares(shares)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.Root().Writer, base64.StdEncoding.EncodeToString(key))
					return nil
				},
			},
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit log operations",
		Commands: []*cli.Command{
			{
				Name:  "verify",
				Usage: "Verify the tenant's ingest-log hash chain",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "tenant id", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					store, err := openStore(c)
					if err != nil {
						return err
					}
					broken, err := store.VerifyAuditChain(c.String("tenant"))
					if err != nil {
						return err
					}
					if broken >= 0 {
						return fmt.Errorf("audit chain broken at entry %d", broken)
					}
					fmt.Fprintln(c.Root().Writer, "audit chain intact")
					return nil
				},
			},
		},
	}
}
