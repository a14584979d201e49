package main

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/atinyakov/ScanKeeper/internal/client/api"
	"github.com/atinyakov/ScanKeeper/internal/client/scan"
	"github.com/atinyakov/ScanKeeper/internal/client/shell"
	"github.com/atinyakov/ScanKeeper/internal/client/storage"
	"github.com/atinyakov/ScanKeeper/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// options are the persistent flags shared by every command.
type options struct {
	url      string
	store    string
	path     string
	ca       string
	user     string
	interval time.Duration
	logLevel string
	autoName string
}

// app is the wired client for one command invocation.
type app struct {
	log    *zap.Logger
	store  *storage.LocalStorage
	api    *api.Client
	agent  *storage.SyncAgent
	shell  *shell.Shell
	closer io.Closer
}

func (a *app) Close() error {
	_ = a.log.Sync()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func defaultPath(kind string) string {
	name := "scankeeper.json"
	if kind == "sqlite" {
		name = "scankeeper.db"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, "scankeeper", name)
}

// openKV selects the storage backend named by kind.
func openKV(kind, path string) (storage.KV, io.Closer, error) {
	path = cmp.Or(path, defaultPath(kind))
	switch kind {
	case "file":
		return storage.NewFileKV(path), nil, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create store dir: %w", err)
		}
		kv, err := storage.OpenSQLiteKV(path)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv, nil
	case "memory":
		return storage.NewMemoryKV(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q (want file, sqlite or memory)", kind)
	}
}

func (o *options) open(in io.Reader, out io.Writer) (*app, error) {
	o.url = cmp.Or(os.Getenv("SCANKEEPER_URL"), o.url)
	o.store = cmp.Or(os.Getenv("SCANKEEPER_STORE"), o.store)

	l := logger.New()
	if err := l.Init(o.logLevel); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	kv, closer, err := openKV(o.store, o.path)
	if err != nil {
		return nil, err
	}
	httpClient, err := api.NewHTTPClient(o.ca)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	a := &app{log: l.Log, closer: closer}
	a.store = storage.NewLocalStorage(kv, a.log)
	a.api = api.New(o.url, httpClient, o.user)
	a.agent = storage.NewSyncAgent(a.store, a.api, a.log, storage.WithInterval(o.interval))

	ingester := scan.NewIngester(a.api, a.store, a.log)
	ingester.AutoCreateName = o.autoName

	a.shell = &shell.Shell{
		Store:    a.store,
		Agent:    a.agent,
		Ingester: ingester,
		Remote:   a.api,
		UserID:   o.user,
		In:       in,
		Out:      out,
	}
	return a, nil
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "scankeeper",
		Short:         "Scan rental equipment into sessions and sync them to the server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)

	f := root.PersistentFlags()
	f.StringVar(&o.url, "url", "http://localhost:8080", "collector base URL (env SCANKEEPER_URL)")
	f.StringVar(&o.store, "store", "file", "local store: file, sqlite or memory (env SCANKEEPER_STORE)")
	f.StringVar(&o.path, "path", "", "local store path")
	f.StringVar(&o.ca, "ca", "", "CA certificate for a TLS collector")
	f.StringVar(&o.user, "user", "", "user id sent as X-User-ID")
	f.DurationVar(&o.interval, "interval", storage.DefaultSyncInterval, "background sync interval")
	f.StringVar(&o.logLevel, "log-level", "error", "log level")
	f.StringVar(&o.autoName, "auto-session", "", "create a session with this name on the first scan if none is active")

	// run wires the app and hands it the given command lines in order.
	run := func(cmd *cobra.Command, lines ...[]string) error {
		a, err := o.open(cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()
		defer a.agent.Stop()
		sc := bufio.NewScanner(cmd.InOrStdin())
		for _, args := range lines {
			a.shell.Exec(cmd.Context(), sc, args)
		}
		return nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "shell",
			Short: "Start the interactive scanning shell with background sync",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := o.open(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				defer a.Close()
				a.agent.Start(cmd.Context())
				defer a.agent.Stop()
				a.shell.Run(cmd.Context())
				return nil
			},
		},
		&cobra.Command{
			Use:   "scan <barcode>...",
			Short: "Scan one or more barcodes into the active session",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				lines := make([][]string, 0, len(args))
				for _, code := range args {
					lines = append(lines, []string{"scan", code})
				}
				return run(cmd, lines...)
			},
		},
		&cobra.Command{
			Use:   "sessions",
			Short: "List local scan sessions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, []string{"sessions"})
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Push the active session to the server now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, []string{"sync"})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "Build version: %s\nBuild date: %s\n",
					cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
			},
		},
	)
	return root
}
