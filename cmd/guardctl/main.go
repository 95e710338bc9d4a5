// Command guardctl talks to a running nonce guard service.
//
//	guardctl admit 0x5000000000000000000000000000000000000005 7 1760600000
//	guardctl check 0x5000000000000000000000000000000000000005 7 1760600000
//	guardctl provision --count 100
//	guardctl stats
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/orderless/internal/api"
	"github.com/dreamware/orderless/internal/txn"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "guardctl",
		Short:        "Query and provision a nonce guard service",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("addr", envOr("GUARD_ADDR", "http://127.0.0.1:8090"), "guard service URL")
	root.PersistentFlags().Duration("timeout", 5*time.Second, "request timeout")

	root.AddCommand(
		decisionCmd("admit", "Record a (sender, nonce) pair; prints rejected on replay",
			func(ctx context.Context, c *api.Client, env txn.Envelope) (bool, error) { return c.Admit(ctx, env) }),
		decisionCmd("check", "Look up a (sender, nonce) pair without recording it",
			func(ctx context.Context, c *api.Client, env txn.Envelope) (bool, error) { return c.Check(ctx, env) }),
		provisionCmd(),
		statsCmd(),
	)
	return root
}

func clientFrom(cmd *cobra.Command) *api.Client {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return api.NewClient(addr, timeout)
}

type decideFunc func(ctx context.Context, c *api.Client, env txn.Envelope) (bool, error)

func decisionCmd(use, short string, decide decideFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <sender> <nonce> <expiration>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvelope(args)
			if err != nil {
				return err
			}
			ok, err := decide(cmd.Context(), clientFrom(cmd), env)
			if err != nil {
				return err
			}
			return printDecision(cmd.OutOrStdout(), env, ok)
		},
	}
}

func provisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Pre-create the next sequential buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			c := clientFrom(cmd)
			created := 0
			for i := 0; i < count; i++ {
				res, err := c.Provision(cmd.Context())
				if err != nil {
					return err
				}
				if res.Created {
					created++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provisioned %d of %d buckets\n", created, count)
			return nil
		},
	}
	cmd.Flags().Int("count", 1, "number of buckets to provision")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print history statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := clientFrom(cmd).Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "buckets     %d/%d (next %d)\n", st.Buckets, st.NumBuckets, st.NextKey)
			fmt.Fprintf(out, "keys        %d\n", st.Keys)
			fmt.Fprintf(out, "accepted    %d\n", st.Accepted)
			fmt.Fprintf(out, "duplicates  %d\n", st.Duplicates)
			fmt.Fprintf(out, "cross hits  %d\n", st.CrossHits)
			fmt.Fprintf(out, "wipes       %d\n", st.Wipes)
			return nil
		},
	}
}

func parseEnvelope(args []string) (txn.Envelope, error) {
	sender, err := txn.ParseSender(args[0])
	if err != nil {
		return txn.Envelope{}, err
	}
	nonce, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return txn.Envelope{}, fmt.Errorf("nonce: %w", err)
	}
	exp, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return txn.Envelope{}, fmt.Errorf("expiration: %w", err)
	}
	return txn.Envelope{Sender: sender, Nonce: nonce, Expiration: exp}, nil
}

func printDecision(w io.Writer, env txn.Envelope, ok bool) error {
	verdict := "accepted"
	if !ok {
		verdict = "rejected"
	}
	_, err := fmt.Fprintf(w, "%s %s\n", verdict, env)
	return err
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
