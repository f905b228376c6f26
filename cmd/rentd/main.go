package main

import (
	"fmt"
	"os"

	"github.com/rentgrid/rentd/internal/config"
	"github.com/rentgrid/rentd/internal/core/domain"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var Version string

var cfg *config.Config

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "rentd"
	app.Usage = "rent ledger and ownership registry administration"
	app.Flags = config.Flags
	app.Commands = []*cli.Command{
		&setTokenPaymentCommand,
		&setFeeCommand,
		&listInstrumentsCommand,
		&rentBalancesCommand,
		&protocolBalanceCommand,
		&claimProtocolCommand,
		&mintCommand,
		&setBaseURICommand,
		&supplyCommand,
		&eventsCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		c, err := config.LoadConfig(ctx)
		if err != nil {
			return fmt.Errorf("invalid config: %s", err)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid config: %s", err)
		}
		log.SetLevel(log.Level(c.LogLevel))
		cfg = c
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		if cfg != nil {
			cfg.RepoManager().Close()
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

func admin() domain.Address {
	return domain.Address(cfg.AdminAddress)
}

var setTokenPaymentCommand = cli.Command{
	Name:  "set-token-payment",
	Usage: "register or update a payment instrument",
	Flags: []cli.Flag{instrumentFlag, feePctFlag, acceptedFlag},
	Action: func(ctx *cli.Context) error {
		return cfg.LedgerService().SetTokenPayment(
			ctx.Context, admin(), domain.Address(ctx.String(instrumentFlagName)),
			ctx.Uint64(feePctFlagName), ctx.Bool(acceptedFlagName),
		)
	},
}

var setFeeCommand = cli.Command{
	Name:  "set-fee",
	Usage: "update the fee percentage of a registered instrument",
	Flags: []cli.Flag{instrumentFlag, feePctFlag},
	Action: func(ctx *cli.Context) error {
		return cfg.LedgerService().SetFee(
			ctx.Context, admin(), domain.Address(ctx.String(instrumentFlagName)),
			ctx.Uint64(feePctFlagName),
		)
	},
}

var listInstrumentsCommand = cli.Command{
	Name:  "instruments",
	Usage: "list the registered payment instruments",
	Action: func(ctx *cli.Context) error {
		svc := cfg.LedgerService()
		total, err := svc.TotalTokenPayments(ctx.Context)
		if err != nil {
			return err
		}
		for index := uint64(0); index < total; index++ {
			instrument, err := svc.TokenPaymentAt(ctx.Context, index)
			if err != nil {
				return err
			}
			feePct, err := svc.FeePercentageFor(ctx.Context, instrument)
			if err != nil {
				return err
			}
			accepted, err := svc.SupportsTokenPayment(ctx.Context, instrument)
			if err != nil {
				return err
			}
			fmt.Printf(
				"%d: %s fee=%d/%d accepted=%t\n",
				index, instrument, feePct, svc.FeePrecision(), accepted,
			)
		}
		return nil
	},
}

var rentBalancesCommand = cli.Command{
	Name:  "rent-balances",
	Usage: "show the unclaimed rent balances of an asset",
	Flags: []cli.Flag{assetFlag},
	Action: func(ctx *cli.Context) error {
		balances, err := cfg.RepoManager().Ledger().ListRentBalances(
			ctx.Context, ctx.Uint64(assetFlagName),
		)
		if err != nil {
			return err
		}
		for _, balance := range balances {
			fmt.Printf("%s: %d\n", balance.Instrument, balance.Amount)
		}
		return nil
	},
}

var protocolBalanceCommand = cli.Command{
	Name:  "protocol-balance",
	Usage: "show the unclaimed protocol balance of an instrument",
	Flags: []cli.Flag{instrumentFlag},
	Action: func(ctx *cli.Context) error {
		amount, err := cfg.LedgerService().ProtocolFeeFor(
			ctx.Context, domain.Address(ctx.String(instrumentFlagName)),
		)
		if err != nil {
			return err
		}
		fmt.Println(amount)
		return nil
	},
}

var claimProtocolCommand = cli.Command{
	Name:  "claim-protocol",
	Usage: "claim the protocol balance of an instrument",
	Flags: []cli.Flag{instrumentFlag},
	Action: func(ctx *cli.Context) error {
		payout, err := cfg.LedgerService().ClaimProtocolFee(
			ctx.Context, admin(), domain.Address(ctx.String(instrumentFlagName)),
		)
		if err != nil {
			return err
		}
		if payout == nil {
			fmt.Println("nothing to claim")
			return nil
		}
		fmt.Printf("claimed %d (%s) to %s\n", payout.Amount, payout.Instrument, payout.Recipient)
		return nil
	},
}

var mintCommand = cli.Command{
	Name:  "mint",
	Usage: "register a new asset",
	Flags: []cli.Flag{assetFlag, toFlag},
	Action: func(ctx *cli.Context) error {
		return cfg.RegistryService().Mint(
			ctx.Context, admin(), domain.Address(ctx.String(toFlagName)),
			ctx.Uint64(assetFlagName),
		)
	},
}

var setBaseURICommand = cli.Command{
	Name:  "set-base-uri",
	Usage: "set the base URI of the asset metadata",
	Flags: []cli.Flag{baseURIFlag},
	Action: func(ctx *cli.Context) error {
		return cfg.RegistryService().SetBaseURI(
			ctx.Context, admin(), ctx.String(baseURIFlagName),
		)
	},
}

var supplyCommand = cli.Command{
	Name:  "supply",
	Usage: "show the total number of registered assets",
	Action: func(ctx *cli.Context) error {
		total, err := cfg.RegistryService().TotalSupply(ctx.Context)
		if err != nil {
			return err
		}
		fmt.Println(total)
		return nil
	},
}

var eventsCommand = cli.Command{
	Name:  "events",
	Usage: "dump the signal log, newest last",
	Flags: []cli.Flag{limitFlag},
	Action: func(ctx *cli.Context) error {
		events, err := cfg.RepoManager().Events().List(ctx.Context, ctx.Int(limitFlagName))
		if err != nil {
			return err
		}
		for _, event := range events {
			fmt.Printf("%d %s %+v\n", event.CreatedAt, event.Type, event)
		}
		return nil
	},
}
