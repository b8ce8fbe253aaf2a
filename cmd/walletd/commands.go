package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli"

	"github.com/fuseio/walletd/keystore"
	"github.com/fuseio/walletd/signer"
)

// parseAddress canonicalizes a textual address at the CLI boundary.
func parseAddress(arg string) (common.Address, error) {
	if !common.IsHexAddress(arg) {
		return common.Address{}, fmt.Errorf("invalid address: %v", arg)
	}

	return common.HexToAddress(arg), nil
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(out))
}

var createCommand = cli.Command{
	Name:   "create",
	Usage:  "Generate a brand new HD wallet.",
	Action: actionDecorator(create),
}

func create(ctx *cli.Context, engine *keystore.Engine) error {
	wallet, err := engine.CreateAccount()
	if err != nil {
		return err
	}

	printJSON(struct {
		Address string `json:"address"`
	}{
		Address: wallet.Address.Hex(),
	})

	return nil
}

var importCommand = cli.Command{
	Name:  "import",
	Usage: "Import an existing wallet.",
	Description: "Imports a wallet from a mnemonic phrase, a raw hex " +
		"private key, or a legacy keystore JSON file. Exactly one " +
		"source must be given.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "mnemonic",
			Usage: "The BIP39 mnemonic phrase to import.",
		},
		cli.StringFlag{
			Name: "passphrase",
			Usage: "The optional BIP39 passphrase accompanying " +
				"the mnemonic.",
		},
		cli.StringFlag{
			Name:  "privkey",
			Usage: "The raw hex encoded private key to import.",
		},
		cli.StringFlag{
			Name:  "keystore_file",
			Usage: "Path to a legacy keystore JSON file.",
		},
		cli.StringFlag{
			Name:  "password",
			Usage: "The password of the legacy keystore file.",
		},
	},
	Action: actionDecorator(importWallet),
}

func importWallet(ctx *cli.Context, engine *keystore.Engine) error {
	var (
		wallet keystore.Wallet
		err    error
	)
	switch {
	case ctx.IsSet("mnemonic"):
		wallet, err = engine.ImportMnemonic(
			ctx.String("mnemonic"), ctx.String("passphrase"),
		)

	case ctx.IsSet("privkey"):
		rawKey, decodeErr := hex.DecodeString(
			strings.TrimPrefix(ctx.String("privkey"), "0x"),
		)
		if decodeErr != nil {
			return fmt.Errorf("invalid private key hex: %w",
				decodeErr)
		}
		wallet, err = engine.ImportPrivateKey(rawKey)

	case ctx.IsSet("keystore_file"):
		keyJSON, readErr := os.ReadFile(ctx.String("keystore_file"))
		if readErr != nil {
			return readErr
		}
		wallet, err = engine.ImportKeystoreJSON(
			keyJSON, ctx.String("password"),
		)

	default:
		return errors.New("one of --mnemonic, --privkey or " +
			"--keystore_file is required")
	}
	if err != nil {
		return err
	}

	printJSON(struct {
		Address string `json:"address"`
	}{
		Address: wallet.Address.Hex(),
	})

	return nil
}

var watchCommand = cli.Command{
	Name:      "watch",
	Usage:     "Start watching an address without key material.",
	ArgsUsage: "address",
	Action:    actionDecorator(watch),
}

func watch(ctx *cli.Context, engine *keystore.Engine) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "watch")
	}

	addr, err := parseAddress(ctx.Args().First())
	if err != nil {
		return err
	}

	if _, err := engine.ImportWatchAddress(addr); err != nil {
		return err
	}

	printJSON(struct {
		Address string `json:"address"`
	}{
		Address: addr.Hex(),
	})

	return nil
}

var listCommand = cli.Command{
	Name:   "list",
	Usage:  "List all wallets.",
	Action: actionDecorator(list),
}

func list(ctx *cli.Context, engine *keystore.Engine) error {
	wallets, err := engine.ListWallets()
	if err != nil {
		return err
	}

	type walletInfo struct {
		Address   string `json:"address"`
		Type      string `json:"type"`
		HD        bool   `json:"hd"`
		Protected bool   `json:"protected_by_presence"`
	}

	infos := make([]walletInfo, 0, len(wallets))
	for _, wallet := range wallets {
		hd, err := engine.IsHDWallet(wallet.Address)
		if err != nil {
			return err
		}
		protected, err := engine.IsProtectedByPresence(wallet.Address)
		if err != nil {
			return err
		}

		infos = append(infos, walletInfo{
			Address:   wallet.Address.Hex(),
			Type:      wallet.Type.String(),
			HD:        hd,
			Protected: protected,
		})
	}

	printJSON(infos)

	return nil
}

var signCommand = cli.Command{
	Name:      "sign",
	Usage:     "Sign a personal message or a raw digest.",
	ArgsUsage: "address",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "msg",
			Usage: "The personal message to sign.",
		},
		cli.StringFlag{
			Name:  "digest",
			Usage: "A raw 32-byte hex digest to sign.",
		},
	},
	Action: actionDecorator(sign),
}

func sign(ctx *cli.Context, engine *keystore.Engine) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "sign")
	}

	addr, err := parseAddress(ctx.Args().First())
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf("Sign with wallet %v", addr.Hex())

	var sig []byte
	switch {
	case ctx.IsSet("msg"):
		sig, err = engine.SignPersonalMessage(
			addr, []byte(ctx.String("msg")), prompt,
		)

	case ctx.IsSet("digest"):
		digest, decodeErr := hex.DecodeString(
			strings.TrimPrefix(ctx.String("digest"), "0x"),
		)
		if decodeErr != nil {
			return fmt.Errorf("invalid digest hex: %w", decodeErr)
		}
		sig, err = engine.SignHash(addr, digest, prompt)

	default:
		return errors.New("one of --msg or --digest is required")
	}
	if err != nil {
		return err
	}

	printJSON(struct {
		Signature string `json:"signature"`
	}{
		Signature: hex.EncodeToString(sig),
	})

	return nil
}

var signTxCommand = cli.Command{
	Name:      "signtx",
	Usage:     "Sign a transaction.",
	ArgsUsage: "address",
	Flags: []cli.Flag{
		cli.Uint64Flag{
			Name:  "nonce",
			Usage: "The sender account nonce.",
		},
		cli.StringFlag{
			Name:  "to",
			Usage: "The recipient address, omit to create a contract.",
		},
		cli.StringFlag{
			Name:  "value",
			Usage: "The amount to transfer in wei.",
		},
		cli.StringFlag{
			Name:  "gasprice",
			Usage: "The gas price in wei.",
		},
		cli.Uint64Flag{
			Name:  "gaslimit",
			Value: 21000,
			Usage: "The gas limit.",
		},
		cli.StringFlag{
			Name:  "data",
			Usage: "Hex encoded call data.",
		},
		cli.Int64Flag{
			Name: "chainid",
			Usage: "The chain id to sign for, 0 for the legacy " +
				"scheme.",
		},
	},
	Action: actionDecorator(signTx),
}

func signTx(ctx *cli.Context, engine *keystore.Engine) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "signtx")
	}

	addr, err := parseAddress(ctx.Args().First())
	if err != nil {
		return err
	}

	params := &signer.TxParams{
		ChainID:  big.NewInt(ctx.Int64("chainid")),
		Nonce:    ctx.Uint64("nonce"),
		GasLimit: ctx.Uint64("gaslimit"),
	}

	if ctx.IsSet("to") {
		to, err := parseAddress(ctx.String("to"))
		if err != nil {
			return err
		}
		params.To = &to
	}
	if ctx.IsSet("value") {
		value, ok := new(big.Int).SetString(ctx.String("value"), 10)
		if !ok {
			return fmt.Errorf("invalid value: %v",
				ctx.String("value"))
		}
		params.Value = value
	}
	if ctx.IsSet("gasprice") {
		gasPrice, ok := new(big.Int).SetString(
			ctx.String("gasprice"), 10,
		)
		if !ok {
			return fmt.Errorf("invalid gasprice: %v",
				ctx.String("gasprice"))
		}
		params.GasPrice = gasPrice
	}
	if ctx.IsSet("data") {
		data, err := hex.DecodeString(
			strings.TrimPrefix(ctx.String("data"), "0x"),
		)
		if err != nil {
			return fmt.Errorf("invalid data hex: %w", err)
		}
		params.Data = data
	}

	prompt := fmt.Sprintf("Sign transaction from wallet %v", addr.Hex())

	rawTx, err := engine.SignTransaction(addr, params, prompt)
	if err != nil {
		return err
	}

	printJSON(struct {
		RawTx string `json:"raw_tx"`
	}{
		RawTx: hex.EncodeToString(rawTx),
	})

	return nil
}

var exportCommand = cli.Command{
	Name:      "export",
	Usage:     "Export a wallet backup.",
	ArgsUsage: "address",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "seed",
			Usage: "Export the seed phrase of an HD wallet.",
		},
		cli.StringFlag{
			Name: "new_password",
			Usage: "Export the private key as keystore JSON " +
				"encrypted under this password.",
		},
	},
	Action: actionDecorator(export),
}

func export(ctx *cli.Context, engine *keystore.Engine) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "export")
	}

	addr, err := parseAddress(ctx.Args().First())
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf("Export backup of wallet %v", addr.Hex())

	switch {
	case ctx.Bool("seed"):
		mnemonic, err := engine.ExportSeedPhrase(addr, prompt)
		if err != nil {
			return err
		}
		printJSON(struct {
			Mnemonic string `json:"mnemonic"`
		}{
			Mnemonic: mnemonic,
		})

	case ctx.IsSet("new_password"):
		keyJSON, err := engine.ExportKeystoreJSON(
			addr, ctx.String("new_password"), prompt,
		)
		if err != nil {
			return err
		}
		fmt.Println(string(keyJSON))

	default:
		return errors.New("one of --seed or --new_password is " +
			"required")
	}

	return nil
}

var verifyCommand = cli.Command{
	Name:      "verify",
	Usage:     "Verify a transcribed seed phrase.",
	ArgsUsage: "address phrase",
	Action:    actionDecorator(verify),
}

func verify(ctx *cli.Context, engine *keystore.Engine) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "verify")
	}

	addr, err := parseAddress(ctx.Args().First())
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf("Verify seed phrase of wallet %v", addr.Hex())

	match, err := engine.VerifySeedPhrase(addr, ctx.Args().Get(1), prompt)
	if err != nil {
		return err
	}

	printJSON(struct {
		Match bool `json:"match"`
	}{
		Match: match,
	})

	return nil
}

var elevateCommand = cli.Command{
	Name:  "elevate",
	Usage: "Upgrade a wallet so its secret requires a presence check.",
	Description: "Re-encrypts the wallet secret under a presence-gated " +
		"key, proves the new copy retrievable, and only then purges " +
		"the ungated copy. The upgrade is one-way.",
	ArgsUsage: "address",
	Action:    actionDecorator(elevate),
}

func elevate(ctx *cli.Context, engine *keystore.Engine) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "elevate")
	}

	addr, err := parseAddress(ctx.Args().First())
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf("Elevate protection of wallet %v", addr.Hex())

	elevated, err := engine.ElevateSecurity(addr, prompt)
	if err != nil {
		return err
	}

	printJSON(struct {
		Elevated bool `json:"elevated"`
	}{
		Elevated: elevated,
	})

	return nil
}

var deleteCommand = cli.Command{
	Name:      "delete",
	Usage:     "Delete a wallet and all of its key material.",
	ArgsUsage: "address",
	Action:    actionDecorator(remove),
}

func remove(ctx *cli.Context, engine *keystore.Engine) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "delete")
	}

	addr, err := parseAddress(ctx.Args().First())
	if err != nil {
		return err
	}

	err = engine.DeleteWallet(keystore.Wallet{
		Type:    keystore.TypeReal,
		Address: addr,
	})
	if err != nil {
		return err
	}

	printJSON(struct {
		Deleted string `json:"deleted"`
	}{
		Deleted: addr.Hex(),
	})

	return nil
}

// actionDecorator assembles the engine for a command and tears it down once
// the command returns.
func actionDecorator(action func(*cli.Context,
	*keystore.Engine) error) cli.ActionFunc {

	return func(ctx *cli.Context) error {
		engine, cleanUp, err := getEngine(ctx)
		if err != nil {
			return err
		}
		defer cleanUp()

		return action(ctx, engine)
	}
}
