package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/campusvote/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL    string
	cfgFile      string
	outputFormat string
	timeout      time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "votectl",
	Short: "campusvote command-line client",
	Long: `votectl drives a campusvote server from the terminal.

Voters can request and confirm a one-time code, view their ballot and cast
votes. Operators can exchange the admin secret for a token and inspect the
audit ledger.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.votectl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("VOTECTL")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.votectl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "campusvote server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(requestOTPCmd)
	rootCmd.AddCommand(confirmOTPCmd)
	rootCmd.AddCommand(ballotCmd)
	rootCmd.AddCommand(castCmd)
	rootCmd.AddCommand(adminTokenCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if tok := viper.GetString("admin_token"); tok != "" {
		opts = append(opts, client.WithAdminToken(tok))
	}
	return client.New(serverURL, opts...)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// explain adds the server's retry hint and details to an API error.
func explain(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := apiErr.Error()
	if apiErr.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry in %s)", apiErr.RetryAfter)
	}
	if len(apiErr.Details) > 0 {
		b, _ := json.Marshal(apiErr.Details)
		msg += " " + string(b)
	}
	return errors.New(msg)
}

// ── request-otp ──────────────────────────────────────────────────────────────

var requestOTPCmd = &cobra.Command{
	Use:   "request-otp <reg_no>",
	Short: "Send a one-time code to the voter's registered email and phone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		receipt, err := c.RequestOTP(ctx, args[0])
		if err != nil {
			return explain(err)
		}
		if outputFormat == "json" {
			return printJSON(receipt)
		}
		fmt.Println(receipt.Message)
		fmt.Printf("Sent via:   %s\n", strings.Join(receipt.SentVia, ", "))
		fmt.Printf("Expires in: %s\n", time.Duration(receipt.ExpiresIn)*time.Second)
		for _, w := range receipt.Warnings {
			fmt.Printf("Warning:    %s\n", w)
		}
		return nil
	},
}

// ── confirm-otp ──────────────────────────────────────────────────────────────

var confirmOTPCmd = &cobra.Command{
	Use:   "confirm-otp <reg_no> <otp>",
	Short: "Exchange a one-time code for a ballot token",
	Long: `Exchange a one-time code for a ballot token.

The token is printed once. Keep it private: anyone holding it can cast the
ballot.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		conf, err := c.ConfirmOTP(ctx, args[0], args[1])
		if err != nil {
			return explain(err)
		}
		if outputFormat == "json" {
			return printJSON(conf)
		}
		fmt.Println(conf.Message)
		fmt.Printf("Ballot token: %s\n", conf.BallotToken)
		return nil
	},
}

// ── ballot ───────────────────────────────────────────────────────────────────

var ballotToken string

var ballotCmd = &cobra.Command{
	Use:   "ballot",
	Short: "Show the positions open for voting and their candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		b, err := c.Ballot(ctx, ballotToken)
		if err != nil {
			return explain(err)
		}
		if outputFormat == "json" {
			return printJSON(b)
		}

		fmt.Printf("Ballot %s (%s)\n\n", b.Ballot.ID, b.Ballot.Status)
		names := make(map[string]string, len(b.Positions))
		for _, p := range b.Positions {
			names[p.ID] = p.Name
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "POSITION\tCANDIDATE\tPOSITION ID\tCANDIDATE ID")
		for _, cand := range b.Candidates {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", names[cand.PositionID], cand.Name, cand.PositionID, cand.ID)
		}
		return w.Flush()
	},
}

func init() {
	ballotCmd.Flags().StringVar(&ballotToken, "token", "", "Ballot token (required)")
	_ = ballotCmd.MarkFlagRequired("token")
}

// ── cast ─────────────────────────────────────────────────────────────────────

var (
	castToken string
	castVotes []string
)

var castCmd = &cobra.Command{
	Use:   "cast",
	Short: "Cast votes with a ballot token",
	Long: `Cast votes with a ballot token. Each --vote is position_id=candidate_id:

  votectl cast --token <token> \
    --vote 5f0c...=a1b2... \
    --vote 7e9d...=c3d4...

All selections are committed together or not at all; the token cannot be
reused afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		selections, err := parseVotes(castVotes)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		res, err := c.Cast(ctx, castToken, selections)
		if err != nil {
			return explain(err)
		}
		if outputFormat == "json" {
			return printJSON(res)
		}
		fmt.Printf("%s (%d vote(s) recorded)\n", res.Message, res.Votes)
		return nil
	},
}

func init() {
	castCmd.Flags().StringVar(&castToken, "token", "", "Ballot token (required)")
	castCmd.Flags().StringArrayVar(&castVotes, "vote", nil, "Selection as position_id=candidate_id (repeatable)")
	_ = castCmd.MarkFlagRequired("token")
	_ = castCmd.MarkFlagRequired("vote")
}

// parseVotes turns position_id=candidate_id pairs into selections.
func parseVotes(pairs []string) ([]client.Selection, error) {
	out := make([]client.Selection, 0, len(pairs))
	for _, p := range pairs {
		pos, cand, ok := strings.Cut(p, "=")
		pos, cand = strings.TrimSpace(pos), strings.TrimSpace(cand)
		if !ok || pos == "" || cand == "" {
			return nil, fmt.Errorf("invalid --vote %q: want position_id=candidate_id", p)
		}
		out = append(out, client.Selection{PositionID: pos, CandidateID: cand})
	}
	return out, nil
}

// ── admin-token ──────────────────────────────────────────────────────────────

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Exchange the admin secret for an admin token",
	Long: `Exchange the admin secret for an admin token.

The secret is read from VOTECTL_ADMIN_SECRET. Export the printed token as
VOTECTL_ADMIN_TOKEN to use the audit commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("admin_secret")
		if secret == "" {
			return fmt.Errorf("VOTECTL_ADMIN_SECRET is not set")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		tok, err := c.AdminToken(ctx, secret)
		if err != nil {
			return explain(err)
		}
		fmt.Println(tok)
		return nil
	},
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit ledger (requires VOTECTL_ADMIN_TOKEN)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		ov, err := c.AuditOverview(ctx)
		if err != nil {
			return explain(err)
		}
		if outputFormat == "json" {
			return printJSON(ov)
		}
		fmt.Printf("Entries: %d\n", ov.Entries)
		fmt.Printf("Root:    %s\n", ov.Root)
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk the audit hash chain and report integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		ok, reason, err := c.VerifyAudit(ctx)
		if err != nil {
			return explain(err)
		}
		if outputFormat == "json" {
			return printJSON(map[string]any{"valid": ok, "error": reason})
		}
		if !ok {
			return fmt.Errorf("audit chain INVALID: %s", reason)
		}
		fmt.Println("audit chain valid")
		return nil
	},
}

var auditEntryCmd = &cobra.Command{
	Use:   "entry <index>",
	Short: "Print a single audit entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil || idx < 0 {
			return fmt.Errorf("index must be a non-negative integer")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		e, err := c.AuditEntry(ctx, idx)
		if err != nil {
			return explain(err)
		}
		if outputFormat == "json" {
			return printJSON(e)
		}
		fmt.Printf("Index:     %d\n", e.Index)
		fmt.Printf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339Nano))
		fmt.Printf("Action:    %s\n", e.Action)
		fmt.Printf("Subject:   %s\n", e.Subject)
		fmt.Printf("Actor:     %s\n", e.Actor)
		if len(e.Details) > 0 {
			fmt.Printf("Details:   %s\n", string(e.Details))
		}
		fmt.Printf("Hash:      %s\n", e.Hash)
		fmt.Printf("Prev hash: %s\n", e.PrevHash)
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditEntryCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the votectl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("votectl %s\n", version)
	},
}
