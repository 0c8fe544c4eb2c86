package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/rhuss/quotagate/pkg/config"
	"github.com/rhuss/quotagate/pkg/counter"
	"github.com/rhuss/quotagate/pkg/counter/backend"
	"github.com/rhuss/quotagate/pkg/quota"
)

const commandTimeout = 10 * time.Second

// PolicyCmd prints the policy table.
type PolicyCmd struct {
	Tier string `help:"Only print this tier."`
}

func (c *PolicyCmd) Run(cli *CLI, out io.Writer) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	table, err := cfg.BuildPolicyTable()
	if err != nil {
		return err
	}

	tiers := table.Tiers()
	if c.Tier != "" {
		tier, err := quota.ParseTier(c.Tier)
		if err != nil {
			return err
		}
		tiers = []quota.Tier{tier}
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tDIMENSION\tLIMIT\tWINDOW\tUPGRADE")
	for _, e := range table.Entries() {
		if !slices.Contains(tiers, e.Tier) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.Tier, e.Dimension, e.Limit.Limit, e.Limit.Window, e.Limit.UpgradeHint)
	}
	return tw.Flush()
}

// KeyCmd groups the key subcommands.
type KeyCmd struct {
	Encode KeyEncodeCmd `cmd:"" help:"Print the store key for a caller, dimension and instant."`
	Decode KeyDecodeCmd `cmd:"" help:"Print the components of a store key."`
}

// KeyEncodeCmd builds a store key.
type KeyEncodeCmd struct {
	Dimension string        `required:"" help:"Quota dimension."`
	Caller    string        `required:"" help:"Caller key (subject or address)."`
	Window    time.Duration `required:"" help:"Window length, e.g. 1h."`
	At        time.Time     `help:"Instant inside the window (RFC 3339). Defaults to now."`
	Prefix    string        `help:"Deployment key prefix." default:"quotagate:"`
}

func (c *KeyEncodeCmd) Run(out io.Writer) error {
	dim, err := quota.ParseDimension(c.Dimension)
	if err != nil {
		return err
	}
	if c.Window < time.Millisecond {
		return fmt.Errorf("window must be >= 1ms, got %s", c.Window)
	}
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	key := quota.BuildKey(dim, c.Caller, c.Window, at)
	fmt.Fprintln(out, quota.KeyBuilder{Prefix: c.Prefix}.Format(key))
	return nil
}

// KeyDecodeCmd parses a store key.
type KeyDecodeCmd struct {
	Key    string        `arg:"" help:"Store key."`
	Prefix string        `help:"Deployment key prefix." default:"quotagate:"`
	Window time.Duration `help:"Window length; when set the window bounds are printed."`
}

func (c *KeyDecodeCmd) Run(out io.Writer) error {
	key, err := quota.KeyBuilder{Prefix: c.Prefix}.Parse(c.Key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "dimension: %s\ncaller:    %s\nepoch:     %d\n", key.Dimension, key.CallerKey, key.Epoch)
	if c.Window > 0 {
		start, end := quota.WindowBounds(key.Epoch, c.Window)
		fmt.Fprintf(out, "window:    %s - %s\n", start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}
	return nil
}

// CallerFlags identify the caller whose counters are inspected.
type CallerFlags struct {
	Subject string `help:"Authenticated subject."`
	Address string `help:"Source address (general-api is keyed by address)."`
	Tier    string `required:"" help:"Subscription tier."`
}

func (f CallerFlags) identity() (quota.CallerIdentity, error) {
	tier, err := quota.ParseTier(f.Tier)
	if err != nil {
		return quota.CallerIdentity{}, err
	}
	if f.Subject == "" && f.Address == "" {
		return quota.CallerIdentity{}, fmt.Errorf("--subject or --address is required")
	}
	return quota.CallerIdentity{Subject: f.Subject, Address: f.Address, Tier: tier}, nil
}

// UsageCmd prints current usage for every dimension the caller can be
// keyed on.
type UsageCmd struct {
	CallerFlags `embed:""`
}

func (c *UsageCmd) Run(cli *CLI, out io.Writer) error {
	id, err := c.identity()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	admitter, store, err := openAdmitter(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer store.Close()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DIMENSION\tCALLER\tUSAGE\tLIMIT\tRESETS")
	for _, dim := range quota.EvaluationOrder {
		if _, err := id.KeyFor(dim); err != nil {
			continue
		}
		d, err := admitter.Usage(ctx, id, dim)
		if err != nil {
			return fmt.Errorf("%s: %w", dim, err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", dim, d.CallerKey, d.Usage, d.Limit, d.WindowEnd.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

// ResetCmd removes one counter.
type ResetCmd struct {
	CallerFlags `embed:""`
	Dimension   string `required:"" help:"Quota dimension to reset."`
}

func (c *ResetCmd) Run(cli *CLI, out io.Writer) error {
	id, err := c.identity()
	if err != nil {
		return err
	}
	dim, err := quota.ParseDimension(c.Dimension)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	admitter, store, err := openAdmitter(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := admitter.Reset(ctx, id, dim); err != nil {
		return err
	}
	fmt.Fprintf(out, "reset %s for %s\n", dim, id.Tier)
	return nil
}

func openAdmitter(ctx context.Context, configPath string) (*quota.Admitter, counter.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	table, err := cfg.BuildPolicyTable()
	if err != nil {
		return nil, nil, err
	}
	store, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	a := quota.NewAdmitter(store, table,
		quota.WithKeyPrefix(cfg.Store.KeyPrefix),
		quota.WithStoreTimeout(cfg.Store.Timeout),
	)
	return a, store, nil
}
