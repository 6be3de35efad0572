package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/workflow"
	"github.com/spf13/cobra"
)

var (
	seedAdmin   string
	seedName    string
	sessionTTL  time.Duration
	exportOut   string
	scanDays    int
	requeueAll  bool
	migrateSeed bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Migrate tables, seed the default presets and optionally a tabelião user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connectDB(false); err != nil {
			return err
		}
		ctx := cmd.Context()
		if migrateSeed {
			if err := models.MigrateTable(ctx); err != nil {
				return err
			}
		}
		n, err := models.SeedPresets(ctx)
		if err != nil {
			return fmt.Errorf("seed presets: %w", err)
		}
		fmt.Printf("presets created: %d\n", n)

		if seedAdmin == "" {
			return nil
		}
		name := seedName
		if name == "" {
			name = seedAdmin
		}
		user, err := models.UpsertUser(ctx, &models.NewUser{
			Username: seedAdmin,
			Name:     name,
			Role:     models.UserRoleTabeliao,
		})
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		fmt.Printf("user ready: %s (%s)\n", user.Username, user.Role)
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage session tokens",
}

var sessionIssueCmd = &cobra.Command{
	Use:   "issue <username>",
	Short: "Issue a session token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connectDB(true); err != nil {
			return err
		}
		token, err := models.CreateSession(cmd.Context(), args[0], sessionTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var sessionRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke a session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connectDB(true); err != nil {
			return err
		}
		return models.RevokeSession(cmd.Context(), args[0])
	},
}

var exportLivroCmd = &cobra.Command{
	Use:   "export-livro <livroId>",
	Short: "Write the index of a livro as an xlsx workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid livro id %q", args[0])
		}
		if err := connectDB(false); err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = fmt.Sprintf("livro-%d.xlsx", id)
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if _, err := models.ExportLivroXlsx(cmd.Context(), id, f); err != nil {
			f.Close()
			_ = os.Remove(out)
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var scanExpiryCmd = &cobra.Command{
	Use:   "scan-expiry",
	Short: "Run one expiring-document scan and record the notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connectDB(true); err != nil {
			return err
		}
		scanner := workflow.NewExpiryScanner(workflow.DBExpirySource{}, "", scanDays)
		docs, err := scanner.ScanOnce(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Printf("%s\t%s\t%s\n", d.ClientNome, d.Nome, d.DataValidade)
		}
		fmt.Printf("notified: %d\n", len(docs))
		return nil
	},
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and repair the registry event outbox",
}

var outboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Count outbox rows per publish status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connectDB(false); err != nil {
			return err
		}
		counts, err := models.OutboxCounts(cmd.Context())
		if err != nil {
			return err
		}
		statuses := make([]string, 0, len(counts))
		for s := range counts {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Printf("%-10s %d\n", s, counts[s])
		}
		return nil
	},
}

var outboxRequeueCmd = &cobra.Command{
	Use:   "requeue [id...]",
	Short: "Move DEAD outbox rows back to PENDING",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !requeueAll {
			return fmt.Errorf("pass row ids or --all")
		}
		ids := make([]int, 0, len(args))
		for _, a := range args {
			id, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("invalid id %q", a)
			}
			ids = append(ids, id)
		}
		if err := connectDB(false); err != nil {
			return err
		}
		n, err := models.RequeueDeadRegistryEvents(cmd.Context(), ids)
		if err != nil {
			return err
		}
		config.LogInfo(config.GetLogger(), "cartorioctl", "outbox requeue", "requeued dead registry events", n)
		fmt.Printf("requeued: %d\n", n)
		return nil
	},
}

var outboxDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Publish one batch of pending outbox rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !config.PubSubEnabled() {
			return fmt.Errorf("PUBSUB_PROJECT_ID and PUBSUB_TOPIC are required")
		}
		if err := connectDB(false); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()
		n := workflow.NewOutboxDispatcher(config.GetDB(), config.GetLogger()).DispatchOnce(ctx)
		fmt.Printf("published: %d\n", n)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedAdmin, "admin", "", "username of a tabelião user to create or update")
	seedCmd.Flags().StringVar(&seedName, "name", "", "display name for --admin")
	seedCmd.Flags().BoolVar(&migrateSeed, "migrate", true, "run AutoMigrate before seeding")

	sessionIssueCmd.Flags().DurationVar(&sessionTTL, "ttl", models.DefaultSessionHours*time.Hour, "token lifetime")
	sessionCmd.AddCommand(sessionIssueCmd, sessionRevokeCmd)

	exportLivroCmd.Flags().StringVarP(&exportOut, "output", "o", "", "output file (default livro-<id>.xlsx)")

	scanExpiryCmd.Flags().IntVar(&scanDays, "days", models.ExpiryWarningDays, "warning window in days")

	outboxRequeueCmd.Flags().BoolVar(&requeueAll, "all", false, "requeue every DEAD row")
	outboxCmd.AddCommand(outboxStatusCmd, outboxRequeueCmd, outboxDispatchCmd)
}
