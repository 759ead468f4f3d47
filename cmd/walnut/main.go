package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ecashdev/walnut/cashu"
	"github.com/ecashdev/walnut/cashu/nuts/nut04"
	"github.com/ecashdev/walnut/cashu/nuts/nut05"
	"github.com/ecashdev/walnut/cashu/nuts/nut11"
	"github.com/ecashdev/walnut/cashu/nuts/nut18"
	"github.com/ecashdev/walnut/wallet"
	"github.com/joho/godotenv"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/urfave/cli/v2"
)

var wlt *wallet.Wallet

func walletConfig() wallet.Config {
	path := setWalletPath()
	// default config
	config := wallet.Config{WalletPath: path, CurrentMintURL: "https://8333.space:3338"}

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		wd, err := os.Getwd()
		if err != nil {
			envPath = ""
		} else {
			envPath = filepath.Join(wd, ".env")
		}
	}

	if len(envPath) > 0 {
		if err := godotenv.Load(envPath); err == nil {
			if mintURL := os.Getenv("MINT_URL"); len(mintURL) > 0 {
				config.CurrentMintURL = mintURL
			}
		}
	}

	return config
}

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".walnut", "wallet")
	if err = os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func setupWallet(ctx *cli.Context) error {
	config := walletConfig()

	var err error
	wlt, err = wallet.LoadWallet(config)
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "walnut",
		Usage: "cashu cli wallet",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			p2pkLockCmd,
			payRequestCmd,
			payRequestPayCmd,
			quotesCmd,
			restoreCmd,
			decodeCmd,
			mnemonicCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		printErr(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "Wallet balance",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	balanceByMints := wlt.GetBalanceByMints()
	fmt.Printf("Balance by mint:\n\n")
	i := 1
	for _, mint := range wlt.Mints() {
		fmt.Printf("Mint %v: %v ---- balance: %v sats\n", i, mint, balanceByMints[mint])
		i++
	}
	fmt.Printf("\nTotal balance: %v sats\n", wlt.GetBalance())
	return nil
}

var mintCmd = &cli.Command{
	Name:      "mint",
	Usage:     "Request mint quote. It will return a Lightning invoice to be paid. If the invoice was already paid, run with the --continue flag and the quote id to mint the ecash",
	ArgsUsage: "[AMOUNT]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "continue",
			Usage: "continue minting from quote id of a paid invoice",
		},
	},
	Before: setupWallet,
	Action: mint,
}

func mint(ctx *cli.Context) error {
	if quoteId := ctx.String("continue"); len(quoteId) > 0 {
		return mintTokens(quoteId)
	}
	return requestMint(ctx)
}

func requestMint(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	amount, err := parseAmount(args.First())
	if err != nil {
		printErr(err)
	}

	mintResponse, err := wlt.RequestMintQuote(amount, "")
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice: %v\n\nquote id: %v\n\nafter paying the invoice you can mint the ecash using the --continue flag with the quote id\n",
		mintResponse.Request, mintResponse.Quote)
	return nil
}

func mintTokens(quoteId string) error {
	quoteState, err := wlt.MintQuoteState(quoteId)
	if err != nil {
		printErr(err)
	}
	if quoteState.State == nut04.Unpaid {
		printErr(errors.New("invoice has not been paid"))
	}

	mintResult, err := wlt.MintTokens(quoteId)
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v sats successfully minted\n", mintResult.Proofs.Amount())
	return nil
}

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "Generates token to be sent for the specified amount",
	ArgsUsage: "[AMOUNT]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "lock",
			Usage: "generate ecash locked to a public key",
		},
		&cli.BoolFlag{
			Name:  "include-fees",
			Usage: "include the fees the receiver will pay to redeem the token",
		},
	},
	Before: setupWallet,
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	amount, err := parseAmount(args.First())
	if err != nil {
		printErr(err)
	}

	includeFees := ctx.Bool("include-fees")
	mintURL := wlt.CurrentMint()

	var sendResult *wallet.SendResult
	if lockpubkey := ctx.String("lock"); len(lockpubkey) > 0 {
		pubkey, err := nut11.ParsePublicKey(lockpubkey)
		if err != nil {
			printErr(err)
		}
		sendResult, err = wlt.SendToPubkey(amount, mintURL, pubkey, includeFees)
		if err != nil {
			printErr(err)
		}
	} else {
		sendResult, err = wlt.Send(amount, mintURL, includeFees)
		if err != nil {
			printErr(err)
		}
	}

	token, err := sendResult.Token.Serialize()
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v\n", token)
	return nil
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "Receive token",
	ArgsUsage: "[TOKEN]",
	Before:    setupWallet,
	Action:    receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a token to receive"))
	}

	token, err := cashu.DecodeToken(args.First())
	if err != nil {
		printErr(err)
	}

	receiveResult, err := wlt.Receive(token)
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v sats received\n", receiveResult.Proofs.Amount())
	return nil
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "Pay a Lightning invoice with ecash",
	ArgsUsage: "[INVOICE]",
	Before:    setupWallet,
	Action:    pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a Lightning invoice to pay"))
	}
	invoice := args.First()

	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		printErr(fmt.Errorf("invalid invoice: %v", err))
	}

	meltQuote, err := wlt.RequestMeltQuote(invoice, wlt.CurrentMint())
	if err != nil {
		printErr(err)
	}
	fmt.Printf("paying invoice for %v sats (+ %v sats fee reserve)\n",
		bolt11.MSatoshi/1000, meltQuote.FeeReserve)

	meltResult, err := wlt.Melt(meltQuote.Quote)
	if err != nil {
		printErr(err)
	}

	switch meltResult.State {
	case nut05.Paid:
		fmt.Printf("invoice paid. Preimage: %v\n", meltResult.Preimage)
		if change := meltResult.Change.Amount(); change > 0 {
			fmt.Printf("%v sats of the fee reserve returned as change\n", change)
		}
	case nut05.Pending:
		fmt.Printf("payment is pending. Check its state later with the quotes command. Quote id: %v\n", meltQuote.Quote)
	default:
		fmt.Println("payment failed. Proofs were not spent")
	}
	return nil
}

var p2pkLockCmd = &cli.Command{
	Name:   "p2pk-lock",
	Usage:  "Public key to which ecash can be locked for this wallet",
	Before: setupWallet,
	Action: p2pkLock,
}

func p2pkLock(ctx *cli.Context) error {
	pubkey := wlt.GetReceivePubkey()
	fmt.Printf("lock ecash to this public key: %v\n", hex.EncodeToString(pubkey.SerializeCompressed()))
	return nil
}

var payRequestCmd = &cli.Command{
	Name:      "request",
	Usage:     "Create a payment request for the given amount",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Action:    createPaymentRequest,
}

func createPaymentRequest(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount for the payment request"))
	}
	amount, err := parseAmount(args.First())
	if err != nil {
		printErr(err)
	}

	request, err := wlt.CreatePaymentRequest(amount, "")
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v\n", request)
	return nil
}

var payRequestPayCmd = &cli.Command{
	Name:      "pay-request",
	Usage:     "Pay a payment request",
	ArgsUsage: "[REQUEST]",
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:  "amount",
			Usage: "amount to pay if the request does not specify one",
		},
	},
	Before: setupWallet,
	Action: func(ctx *cli.Context) error {
		args := ctx.Args()
		if args.Len() < 1 {
			printErr(errors.New("specify a payment request to pay"))
		}

		if err := wlt.PayRequest(args.First(), ctx.Uint64("amount")); err != nil {
			printErr(err)
		}
		fmt.Println("payment sent")
		return nil
	},
}

var quotesCmd = &cli.Command{
	Name:  "quotes",
	Usage: "List pending melt quotes and check their state",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "check",
			Usage: "check state of quote with the given id",
		},
	},
	Before: setupWallet,
	Action: quotes,
}

func quotes(ctx *cli.Context) error {
	if quoteId := ctx.String("check"); len(quoteId) > 0 {
		quote, err := wlt.CheckMeltQuoteState(quoteId)
		if err != nil {
			printErr(err)
		}
		fmt.Printf("quote %v state: %v\n", quoteId, quote.State)
		return nil
	}

	pendingQuotes := wlt.PendingMeltQuotes()
	if len(pendingQuotes) == 0 {
		fmt.Println("no pending quotes")
		return nil
	}
	fmt.Println("pending quotes:")
	for _, quote := range pendingQuotes {
		fmt.Printf("- %v\n", quote)
	}
	return nil
}

var restoreCmd = &cli.Command{
	Name:      "restore",
	Usage:     "Restore wallet from mnemonic",
	ArgsUsage: "[MNEMONIC]",
	Action: func(ctx *cli.Context) error {
		args := ctx.Args()
		if args.Len() < 1 {
			printErr(errors.New("specify the mnemonic to restore from"))
		}
		mnemonic := args.First()

		config := walletConfig()
		proofs, err := wallet.Restore(config.WalletPath, mnemonic, []string{config.CurrentMintURL})
		if err != nil {
			printErr(err)
		}
		fmt.Printf("restored %v sats\n", proofs.Amount())
		return nil
	},
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	Usage:     "Decode a token or payment request",
	ArgsUsage: "[TOKEN]",
	Action: func(ctx *cli.Context) error {
		args := ctx.Args()
		if args.Len() < 1 {
			printErr(errors.New("specify a token or payment request to decode"))
		}
		encoded := args.First()

		if len(encoded) > 5 && encoded[:5] == nut18.PaymentRequestPrefix+nut18.PaymentRequestV1 {
			request, err := nut18.DecodePaymentRequest(encoded)
			if err != nil {
				printErr(err)
			}
			jsonRequest, err := json.MarshalIndent(request, "", "  ")
			if err != nil {
				printErr(err)
			}
			fmt.Printf("%s\n", jsonRequest)
			return nil
		}

		token, err := cashu.DecodeToken(encoded)
		if err != nil {
			printErr(err)
		}
		fmt.Printf("mint: %v\namount: %v sats\nproofs: %v\n", token.Mint(), token.Amount(), len(token.Proofs()))
		return nil
	},
}

var mnemonicCmd = &cli.Command{
	Name:   "mnemonic",
	Usage:  "Mnemonic to restore wallet",
	Before: setupWallet,
	Action: func(ctx *cli.Context) error {
		fmt.Printf("mnemonic: %v\n", wlt.Mnemonic())
		return nil
	},
}

func parseAmount(arg string) (uint64, error) {
	var amount uint64
	if _, err := fmt.Sscanf(arg, "%d", &amount); err != nil {
		return 0, fmt.Errorf("invalid amount: %v", arg)
	}
	if amount == 0 {
		return 0, errors.New("amount has to be greater than 0")
	}
	return amount, nil
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(1)
}
