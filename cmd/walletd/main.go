package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli"
	bolt "go.etcd.io/bbolt"

	"github.com/fuseio/walletd/build"
	"github.com/fuseio/walletd/jsonkeystore"
	"github.com/fuseio/walletd/keystore"
	"github.com/fuseio/walletd/secretstore"
	"github.com/fuseio/walletd/secureenclave"
)

const (
	defaultDBFilename = "walletd.db"
	defaultLogDirname = "logs"
	defaultLogname    = "walletd.log"
)

var defaultWalletDir = btcutil.AppDataDir("walletd", false)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[walletd] %v\n", err)
	os.Exit(1)
}

// setupLogging builds a sublogger manager over the rotating log writer and
// hands every package its subsystem logger.
func setupLogging(ctx *cli.Context) (*build.SubLoggerManager, error) {
	logWriter := &build.LogWriter{}

	if !ctx.GlobalBool("nologfile") {
		rotator := build.NewRotatingLogWriter()
		logFile := filepath.Join(
			ctx.GlobalString("walletdir"), defaultLogDirname,
			defaultLogname,
		)
		err := rotator.InitLogRotator(
			build.DefaultFileLoggerConfig(), logFile,
		)
		if err != nil {
			return nil, err
		}
		logWriter.RotatorPipe = rotator.Pipe()
	}

	mgr := build.NewSubLoggerManager(logWriter)

	keystore.UseLogger(mgr.GenSubLogger("KSTR"))
	secretstore.UseLogger(mgr.GenSubLogger("SSTR"))
	secureenclave.UseLogger(mgr.GenSubLogger("SENC"))

	level := ctx.GlobalString("debuglevel")
	if err := build.ParseAndSetDebugLevels(level, mgr); err != nil {
		return nil, err
	}

	return mgr, nil
}

// getEngine opens the wallet database and assembles the engine with the
// software enclave gated by a terminal presence prompt. The returned
// cleanup closes the database.
func getEngine(ctx *cli.Context) (*keystore.Engine, func(), error) {
	if _, err := setupLogging(ctx); err != nil {
		return nil, nil, err
	}

	walletDir := ctx.GlobalString("walletdir")
	if err := os.MkdirAll(walletDir, 0700); err != nil {
		return nil, nil, err
	}

	db, err := bolt.Open(
		filepath.Join(walletDir, defaultDBFilename), 0600, nil,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open wallet db: %w",
			err)
	}
	cleanUp := func() {
		db.Close()
	}

	var verifier secureenclave.PresenceVerifier
	if !ctx.GlobalBool("nopresence") {
		verifier = &terminalVerifier{}
	}

	enclave, err := secureenclave.NewSoftwareEnclave(db, verifier)
	if err != nil {
		cleanUp()
		return nil, nil, err
	}

	store, err := secretstore.NewStore(db, enclave)
	if err != nil {
		cleanUp()
		return nil, nil, err
	}

	books, err := secretstore.NewBookkeeper(db)
	if err != nil {
		cleanUp()
		return nil, nil, err
	}

	engine := keystore.NewEngine(&keystore.Config{
		Store: store,
		Books: books,
		LegacyDir: jsonkeystore.NewDirectory(
			filepath.Join(walletDir, "keystore"),
		),
	})

	return engine, cleanUp, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "walletd"
	app.Version = build.Version()
	app.Usage = "control plane for wallet key management"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "walletdir",
			Value: defaultWalletDir,
			Usage: "The base directory holding the wallet " +
				"database and logs.",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Value: "info",
			Usage: "Logging level for all subsystems {trace, " +
				"debug, info, warn, error, critical}.",
		},
		cli.BoolFlag{
			Name:  "nologfile",
			Usage: "If set, no log file is written.",
		},
		cli.BoolFlag{
			Name: "nopresence",
			Usage: "If set, no presence challenge can be " +
				"raised; secrets are stored without a " +
				"presence-required copy.",
		},
	}
	app.Commands = []cli.Command{
		createCommand,
		importCommand,
		watchCommand,
		listCommand,
		signCommand,
		signTxCommand,
		exportCommand,
		verifyCommand,
		elevateCommand,
		deleteCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
