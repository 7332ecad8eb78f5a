// Command payctl is the command line client of the z-pay gateway. It shares
// the session database with the portal, so signing in with either one signs
// in both.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-pay/client/internal/apiclient"
	"github.com/zhouzirui/z-pay/client/internal/app"
	"github.com/zhouzirui/z-pay/client/internal/config"
	"github.com/zhouzirui/z-pay/client/internal/guard"
	"github.com/zhouzirui/z-pay/client/internal/logging"
	"github.com/zhouzirui/z-pay/client/internal/navigation"
	"github.com/zhouzirui/z-pay/client/internal/storage"
)

var (
	errNotSignedIn     = errors.New("not signed in, run `payctl login` first")
	errAlreadySignedIn = errors.New("already signed in, run `payctl logout` first")
)

type cli struct {
	verbose     bool
	storagePath string
	apiURL      string
	apiV2URL    string

	in  io.Reader
	out io.Writer

	logger *zap.Logger
	db     *storage.SQLiteStorage
	nav    *navigation.Recorder
	app    *app.App
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{in: os.Stdin, out: os.Stdout}
	err := newRootCmd(c).ExecuteContext(ctx)
	c.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", c.explain(err))
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "payctl",
		Short: "Command line client for the z-pay payment gateway",
		Long: `payctl signs in to the z-pay gateway, manages the account password and
works with QR payment links.

The session is stored in the same database as the portal (STORAGE_PATH).`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().StringVar(&c.storagePath, "storage", "", "Session database (default: STORAGE_PATH or the user config dir)")
	root.PersistentFlags().StringVar(&c.apiURL, "api-url", "", "Gateway API URL (default: NEXT_PUBLIC_API_URL)")
	root.PersistentFlags().StringVar(&c.apiV2URL, "api-v2-url", "", "Gateway v2 API URL (default: NEXT_PUBLIC_API_V2_URL)")

	root.AddCommand(
		newLoginCmd(c),
		newRegisterCmd(c),
		newVerifyCmd(c),
		newLogoutCmd(c),
		newWhoamiCmd(c),
		newStatusCmd(c),
		newPasswordCmd(c),
		newQRCmd(c),
	)
	return root
}

// setup builds the client and hydrates the session before any command runs.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.storagePath != "" {
		cfg.Storage.Path = c.storagePath
	}
	if c.apiURL != "" {
		cfg.API.BaseURL = c.apiURL
	}
	if c.apiV2URL != "" {
		cfg.API.V2BaseURL = c.apiV2URL
	}

	c.logger, err = logging.NewCLI(c.verbose)
	if err != nil {
		return err
	}

	c.db, err = storage.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return err
	}

	c.nav = navigation.NewRecorder()
	c.app, err = app.New(cfg.API, c.db, app.Options{Navigator: c.nav, Logger: c.logger})
	if err != nil {
		return err
	}

	return c.app.Sessions.Hydrate(cmd.Context())
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

// require runs the route guard for a command. Commands are views that mount
// after hydration, so the guard decides on its first evaluation.
func (c *cli) require(req guard.Requirement) error {
	g := guard.New(req, c.app.Sessions, nil)
	g.Mounted()

	d := g.Evaluate()
	switch d.Action {
	case guard.Render:
		return nil
	case guard.Redirect:
		if req == guard.RequireAuth {
			return errNotSignedIn
		}
		return errAlreadySignedIn
	default:
		return errors.New("session is still loading")
	}
}

// explain adds the follow-up a rejected session needs.
func (c *cli) explain(err error) error {
	if c.nav != nil {
		if ev, ok := c.nav.TakePending(); ok && ev.Path == navigation.LoginPath {
			return fmt.Errorf("%w; the session has ended, run `payctl login`", err)
		}
	}
	if errors.Is(err, apiclient.ErrUnauthorized) {
		return fmt.Errorf("%w; run `payctl login`", err)
	}
	return err
}
