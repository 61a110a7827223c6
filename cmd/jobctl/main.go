// Package main provides the jobctl operator CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"docqa-engine/internal/config"
	"docqa-engine/internal/domain/model"
	aiAdapters "docqa-engine/internal/infra/adapters/ai"
	"docqa-engine/internal/infra/api"
	"docqa-engine/internal/infra/db"
	"docqa-engine/internal/infra/logging"
	"docqa-engine/internal/infra/worker"
	"docqa-engine/internal/usecase"
)

var (
	// Global flags
	cfgPath string
	envPath string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operate the document QA job engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to YAML config file")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "optional dotenv file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(submitCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(listCmd())
	root.AddCommand(reclaimCmd())
	root.AddCommand(tokenCmd())
	return root
}

// env is what every command needs: config, logger and an open store.
type env struct {
	cfg    *config.Config
	log    *zerolog.Logger
	store  *db.Store
	jobUC  usecase.JobUseCase
	stdout io.Writer
}

func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}
	return config.LoadConfig(cfgPath, false)
}

func openEnv(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	l := zerolog.Nop()
	logger := &l
	if verbose {
		logger = logging.NewWithWriter(cfg.Log, true, cmd.ErrOrStderr())
	}
	store, err := db.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		log:    logger,
		store:  store,
		jobUC:  usecase.NewJobUseCase(store.Jobs, store.Messages, store.TM, aiAdapters.Catalog(cfg.AI), nil, logger),
		stdout: cmd.OutOrStdout(),
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func submitCmd() *cobra.Command {
	var (
		spec        model.JobSpec
		thinking    string
		catalogFile string
		retries     int
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a job",
		Long: `Queue a job directly in the store. A running engine picks it up on its next poll.

The evidence catalog is read from --catalog (a JSON file, "-" for stdin).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.store.Close()

			spec.ThinkingLevel = model.ThinkingLevel(thinking)
			if catalogFile != "" {
				raw, err := readInput(cmd, catalogFile)
				if err != nil {
					return err
				}
				spec.ContextCatalog = string(raw)
			}
			if cmd.Flags().Changed("retries") {
				spec.RetryBudget = &retries
			}
			if spec.Model == "" {
				spec.Model = e.cfg.AI.DefaultModel
			}
			job, err := e.jobUC.Submit(ctx, spec)
			if err != nil {
				return err
			}
			return printJSON(e.stdout, map[string]any{"job_id": job.ID, "status": job.Status})
		},
	}
	cmd.Flags().StringVar(&spec.ConversationID, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&spec.ClientID, "client", "", "owning client id")
	cmd.Flags().StringVar(&spec.UserText, "text", "", "question text")
	cmd.Flags().StringVar(&spec.Model, "model", "", "model name (default from config)")
	cmd.Flags().StringVar(&thinking, "thinking", "", "thinking level: low|medium|high")
	cmd.Flags().StringVar(&spec.SystemPrompt, "system", "", "system prompt override")
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "evidence catalog JSON file")
	cmd.Flags().IntVar(&retries, "retries", model.DefaultMaxRetries, "retry budget")
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.store.Close()

			job, err := e.jobUC.Get(ctx, "", args[0])
			if err != nil {
				return err
			}
			return printJSON(e.stdout, jobSummary(job, true))
		},
	}
}

func listCmd() *cobra.Command {
	var (
		f      model.JobFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.store.Close()

			f.Status = model.JobStatus(status)
			jobs, err := e.jobUC.List(ctx, f)
			if err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(jobs))
			for _, j := range jobs {
				out = append(out, jobSummary(j, false))
			}
			return printJSON(e.stdout, out)
		},
	}
	cmd.Flags().StringVar(&f.ConversationID, "conversation", "", "filter by conversation id")
	cmd.Flags().StringVar(&f.ClientID, "client", "", "filter by client id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&f.Limit, "limit", usecase.DefaultListLimit, "maximum number of jobs")
	return cmd
}

func jobSummary(j *model.Job, full bool) map[string]any {
	out := map[string]any{
		"job_id":          j.ID,
		"conversation_id": j.ConversationID,
		"client_id":       j.ClientID,
		"status":          j.Status,
		"model_name":      j.Model,
		"progress":        j.Progress,
		"retry_count":     j.RetryCount,
		"max_retries":     j.MaxRetries,
		"created_at":      j.CreatedAt,
	}
	if j.WorkerID != "" {
		out["worker_id"] = j.WorkerID
	}
	if j.ErrorMessage != "" {
		out["error"] = j.ErrorMessage
	}
	if full {
		if j.LastError != "" {
			out["last_error"] = j.LastError
		}
		if j.Result != nil {
			out["result"] = j.Result
		}
	}
	return out
}

func reclaimCmd() *cobra.Command {
	var after time.Duration
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Return stale processing jobs to the queue once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.store.Close()

			if after <= 0 {
				after = e.cfg.Worker.ReclaimAfter
			}
			r := worker.NewReclaimer(e.store.Jobs, nil, nil, after, "", nil, e.log)
			jobs, err := r.ReclaimOnce(ctx)
			if err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(jobs))
			for _, j := range jobs {
				out = append(out, map[string]any{"job_id": j.ID, "status": j.Status, "retry_count": j.RetryCount})
			}
			return printJSON(e.stdout, map[string]any{"reclaimed": len(jobs), "jobs": out})
		},
	}
	cmd.Flags().DurationVar(&after, "after", 0, "staleness threshold (default worker.reclaim_after)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		client string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := api.NewAuthenticator(cfg.HTTP.JWTSecret, cfg.HTTP.TokenTTL).Mint(client, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client id to embed")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default http.token_ttl)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}
