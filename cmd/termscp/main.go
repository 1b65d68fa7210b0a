// Command termscp is the CLI entrypoint: it parses arguments, initializes
// the persistent stores and logger, and drives the activity sequence
// described in spec.md §4.12. Terminal rendering and key-event routing are
// out of this module's scope (spec.md §1); Manager.SetTickFunc is the seam
// a UI runtime plugs into.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/veeso/termscp-sub002/internal/activity"
	"github.com/veeso/termscp-sub002/internal/cliparse"
	"github.com/veeso/termscp-sub002/internal/logging"
	"github.com/veeso/termscp-sub002/internal/params"
	"github.com/veeso/termscp-sub002/internal/secret"
	"github.com/veeso/termscp-sub002/internal/sshimport"
	"github.com/veeso/termscp-sub002/internal/store"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "termscp:", err)
		os.Exit(1)
	}
}

// cliFlags mirrors spec.md §6's flag set.
type cliFlags struct {
	bookmarks  []string
	passwords  []string
	tickMillis int
	trace      bool
	quiet      bool
	noKeyring  bool
	positional []string
}

func run(args []string) error {
	app := kingpin.New("termscp", "Terminal file transfer client")
	var flags cliFlags

	app.Flag("bookmark", "Resolve a positional endpoint as a bookmark name (may repeat)").
		Short('b').StringsVar(&flags.bookmarks)
	app.Flag("password", "Supply a password for a positional endpoint, in order (may repeat)").
		Short('P').StringsVar(&flags.passwords)
	app.Flag("ticks", "UI tick interval in milliseconds").
		Short('T').Default("10").IntVar(&flags.tickMillis)
	app.Flag("debug", "Enable trace-level logging").
		Short('D').BoolVar(&flags.trace)
	app.Flag("quiet", "Disable logging entirely").
		Short('q').BoolVar(&flags.quiet)
	app.Flag("wno-keyring", "Disable the OS keyring, always use file-based key storage").
		BoolVar(&flags.noKeyring)
	var printVersion bool
	app.Flag("version", "Print the version and exit").
		Short('v').BoolVar(&printVersion)
	app.Arg("endpoints", "Zero to two endpoint specs plus an optional local working directory").
		StringsVar(&flags.positional)

	app.Command("config", "Enter the setup activity")
	themeCmd := app.Command("theme", "Import a theme TOML file")
	themePath := themeCmd.Arg("path", "Path to the theme TOML file").Required().String()
	app.Command("update", "Check for and install an update")
	importCmd := app.Command("import-ssh-hosts", "Import bookmarks and keys from an ssh_config file")
	importPath := importCmd.Arg("path", "Path to the ssh_config file (defaults to the configured one)").String()

	selected, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}
	if printVersion {
		fmt.Println(version)
		return nil
	}

	configDir, err := configDir()
	if err != nil {
		return trace.Wrap(err)
	}
	logFile, err := logFilePath()
	if err != nil {
		return trace.Wrap(err)
	}

	level := logging.LevelDefault
	switch {
	case flags.quiet:
		level = logging.LevelQuiet
	case flags.trace:
		level = logging.LevelTrace
	}
	if err := logging.Init(logFile, level); err != nil {
		return trace.Wrap(err)
	}

	ks := secret.NewKeyStore(configDir, flags.noKeyring)
	_, onKeyring := ks.(*secret.KeyringStorage)
	bookmarksStore, err := store.OpenBookmarks(filepath.Join(configDir, "bookmarks.toml"), ks, onKeyring, store.DefaultRecentsCap, false)
	if err != nil {
		return trace.Wrap(err)
	}
	configStore := store.OpenConfig(filepath.Join(configDir, "config.toml"), filepath.Join(configDir, ".ssh"))
	themeStore := store.OpenTheme(filepath.Join(configDir, "theme.toml"))

	ctx := &activity.Context{Bookmarks: bookmarksStore, Config: configStore, Theme: themeStore}
	manager := activity.NewManager(ctx)
	manager.SetTickInterval(time.Duration(flags.tickMillis) * time.Millisecond)

	switch selected {
	case "theme":
		return themeStore.Import(*themePath)
	case "update":
		fmt.Println("self-update is handled by an external collaborator (spec.md §6); nothing to do here")
		return nil
	case "import-ssh-hosts":
		path := *importPath
		if path == "" {
			path = configStore.SSHConfigPath()
		}
		result, err := sshimport.Import(path, bookmarksStore, configStore)
		if err != nil {
			return trace.Wrap(err)
		}
		fmt.Printf("imported %d bookmark(s), %d ssh key(s)\n", len(result.BookmarksAdded), len(result.KeysImported))
		return nil
	case "config":
		manager.RunFrom(activity.KindSetup)
		return nil
	default:
		return runFileTransfer(manager, ctx, flags)
	}
}

// runFileTransfer resolves the positional endpoint-spec arguments (raw
// specs, bookmark names via -b, or defaults) into HostBridgeParams/
// FileTransferParams and submits them through AuthActivity before handing
// control to Manager.Run.
func runFileTransfer(manager *activity.Manager, ctx *activity.Context, flags cliFlags) error {
	if len(flags.positional) == 0 {
		manager.Run()
		return nil
	}

	remoteSpec := flags.positional[0]
	localPath := "."
	if len(flags.positional) > 1 {
		localPath = flags.positional[1]
	}

	// -b resolves the first positional as a bookmark name instead of a raw
	// endpoint spec (spec.md §6); otherwise it's parsed as one.
	var remote params.FileTransferParams
	var err error
	if len(flags.bookmarks) > 0 {
		remote, _, err = ctx.Bookmarks.GetBookmark(flags.bookmarks[0])
	} else {
		remote, err = cliparse.ParseEndpointSpec(remoteSpec, params.ProtocolSFTP)
	}
	if err != nil {
		return trace.Wrap(err)
	}
	if len(flags.passwords) > 0 && remote.Params.Generic != nil {
		remote.Params.Generic.Password = flags.passwords[0]
	}

	// Bypass AuthActivity's interactive form and seed Context directly, the
	// same handoff AuthActivity.SubmitConnection performs, then enter
	// FileTransferActivity straight away.
	host := params.HostBridgeParams{Localhost: localPath}
	if err := host.Validate(); err != nil {
		return trace.Wrap(err)
	}
	if err := remote.Params.Validate(); err != nil {
		return trace.Wrap(err)
	}
	ctx.HostBridge = &host
	ctx.Remote = &remote
	if err := ctx.Bookmarks.AddRecent(remote, time.Now()); err == nil {
		ctx.Bookmarks.Write()
	}

	manager.RunFrom(activity.KindFileTransfer)
	return nil
}

func configDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := homedir.Dir()
		if herr != nil {
			return "", trace.Wrap(err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "termscp"), nil
}

func logFilePath() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		dir, dErr := configDir()
		if dErr != nil {
			return "", trace.Wrap(err)
		}
		return filepath.Join(dir, "termscp.log"), nil
	}
	return filepath.Join(base, "termscp", "termscp.log"), nil
}
