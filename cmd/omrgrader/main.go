package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xuri/excelize/v2"

	"omrgrader/internal/api"
	"omrgrader/internal/batch"
	appI18n "omrgrader/internal/i18n"
	"omrgrader/internal/model"
	"omrgrader/internal/oracle"
	"omrgrader/internal/report"
	"omrgrader/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "omrgrader",
		Short: "Answer-sheet evaluation over an OpenAI-compatible vision API",
	}

	serve := serveCmd()
	root.AddCommand(serve, gradeCmd(), batchCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `omrgrader --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "omrgrader.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Report language")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addOracleFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("oracle-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("oracle-key", "ollama", "API key for the vision endpoint")
	f.String("oracle-model", "qwen2.5vl", "Vision model name")
}

func addKeyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("key", "k", "", "Answer key letters, e.g. A,B,C,D or ABCD")
	f.String("key-file", "", "File with answer key letters, one per line or comma separated")
	f.StringP("grid", "g", "", "Answer grid layout as ROWSxCOLS, e.g. 5x4")
	f.Bool("detect-roll", true, "Ask the oracle to read the roll number")
	f.Bool("detect-subject", false, "Ask the oracle to read the subject code")
}

func addExportFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("school-name", "", "School name printed in report headers")
	f.String("footer", "", "Footer text printed under each report sheet")
	f.String("header-color", "", "Header fill color as RRGGBB")
	f.String("font", "", "Report font family")
	f.Bool("report-header", true, "Include the title block at the top of each sheet")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP evaluation server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	addOracleFlags(cmd)
	addExportFlags(cmd)
	cmd.Flags().StringP("addr", "a", ":8080", "HTTP listen address")
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade IMAGE",
		Short: "Evaluate a single answer-sheet photo and write its xlsx report",
		Args:  cobra.ExactArgs(1),
		RunE:  runGrade,
	}
	addCommonFlags(cmd)
	addOracleFlags(cmd)
	addKeyFlags(cmd)
	addExportFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "Output xlsx path (default derived from the result)")
	return cmd
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch IMAGE...",
		Short: "Evaluate a batch of answer-sheet photos and write the batch report",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBatch,
	}
	addCommonFlags(cmd)
	addOracleFlags(cmd)
	addKeyFlags(cmd)
	addExportFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "Output xlsx path (default derived from batch size and date)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Rebuild the batch report from stored evaluations",
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	addExportFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "Output xlsx path (default derived from batch size and date)")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("OMRGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("omrgrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/omrgrader")
	v.AddConfigPath("/etc/omrgrader")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func exportSettings(v *viper.Viper) model.ExportSettings {
	s := model.DefaultExportSettings()
	if c := v.GetString("header-color"); c != "" {
		s.HeaderColor = c
	}
	if f := v.GetString("font"); f != "" {
		s.FontFamily = f
	}
	s.IncludeHeader = v.GetBool("report-header")
	s.SchoolName = v.GetString("school-name")
	s.FooterText = v.GetString("footer")
	return s
}

// answerKeyFromFlags assembles the evaluation configuration from --key or
// --key-file plus the layout and detection flags.
func answerKeyFromFlags(v *viper.Viper) (model.AnswerKeyConfig, error) {
	var cfg model.AnswerKeyConfig

	raw := v.GetString("key")
	if path := v.GetString("key-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read key file: %w", err)
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return cfg, fmt.Errorf("no answer key: set --key or --key-file")
	}
	cfg.Answers = parseKeyLetters(raw)

	if g := v.GetString("grid"); g != "" {
		grid, err := parseGrid(g)
		if err != nil {
			return cfg, err
		}
		cfg.Grid = grid
	}
	cfg.DetectRollNumber = v.GetBool("detect-roll")
	cfg.DetectSubjectCode = v.GetBool("detect-subject")

	return cfg, cfg.Validate()
}

// parseKeyLetters accepts comma, whitespace, or newline separated letters, or
// a single run of letters with no separators at all.
func parseKeyLetters(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) == 1 && len(fields[0]) > 1 {
		parts := make([]string, 0, len(fields[0]))
		for _, r := range fields[0] {
			parts = append(parts, string(r))
		}
		return parts
	}
	return fields
}

func parseGrid(s string) (*model.GridConfig, error) {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("grid must be ROWSxCOLS, got %q", s)
	}
	var g model.GridConfig
	if _, err := fmt.Sscanf(parts[0], "%d", &g.Rows); err != nil {
		return nil, fmt.Errorf("grid rows in %q: %w", s, err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &g.Columns); err != nil {
		return nil, fmt.Errorf("grid columns in %q: %w", s, err)
	}
	return &g, nil
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "image/jpeg"
}

func saveWorkbook(f *excelize.File, path string) error {
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	slog.Info("report written", "path", path)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	oracleClient := oracle.New(
		v.GetString("oracle-url"),
		v.GetString("oracle-key"),
		v.GetString("oracle-model"),
	)
	if err := oracleClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("oracle health check: %w", err)
	}
	slog.Info("oracle endpoint OK",
		"url", v.GetString("oracle-url"), "model", v.GetString("oracle-model"))

	items := batch.NewStore()
	proc := batch.NewProcessor(oracleClient, db, nil, slog.Default())
	h := api.New(db, items, proc, oracleClient, exportSettings(v), slog.Default())

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"oracle_url", v.GetString("oracle-url"),
		"model", v.GetString("oracle-model"),
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func runGrade(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	cfg, err := answerKeyFromFlags(v)
	if err != nil {
		return err
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLanguage(context.Background(), lang)

	imagePath := args[0]
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	oracleClient := oracle.New(
		v.GetString("oracle-url"),
		v.GetString("oracle-key"),
		v.GetString("oracle-model"),
	)
	result, err := oracleClient.Grade(ctx, image, contentTypeFor(imagePath), cfg)
	if err != nil {
		var oErr *oracle.Error
		if errors.As(err, &oErr) {
			return fmt.Errorf("%s", oErr.UserMessage())
		}
		return err
	}

	rec := model.EvaluationRecord{
		ID:               uuid.NewString(),
		FileName:         filepath.Base(imagePath),
		RollNumber:       result.RollNumber,
		SubjectCode:      result.SubjectCode,
		Score:            result.Score,
		TotalQuestions:   result.TotalQuestions,
		Accuracy:         result.Accuracy,
		ExtractedAnswers: result.ExtractedAnswers,
		CorrectAnswers:   result.CorrectAnswers,
		DetailedResults:  result.DetailedResults,
		Confidence:       result.Confidence,
		ImageQuality:     result.ImageQuality,
		CreatedAt:        time.Now().UTC(),
	}
	if err := db.InsertEvaluation(ctx, rec); err != nil {
		slog.Warn("result evaluated but could not be saved", "error", err)
	}
	slog.Info("sheet evaluated",
		"file", rec.FileName, "score", rec.Score, "total", rec.TotalQuestions)

	builder := report.NewBuilder(exportSettings(v))
	f, err := builder.BuildSingle(ctx, rec)
	if err != nil {
		return err
	}
	out := v.GetString("output")
	if out == "" {
		out = report.SingleFileName(rec.RollNumber, rec.SubjectCode, time.Now())
	}
	return saveWorkbook(f, out)
}

func runBatch(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	cfg, err := answerKeyFromFlags(v)
	if err != nil {
		return err
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLanguage(context.Background(), lang)

	sheets := make([]model.BatchItem, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		sheets = append(sheets, model.BatchItem{
			FileName:    filepath.Base(path),
			ContentType: contentTypeFor(path),
			ImageData:   data,
		})
	}

	if err := db.SetAnswerKey(ctx, cfg); err != nil {
		slog.Warn("failed to persist answer key", "error", err)
	}

	items := batch.NewStore()
	items.Seed(sheets)

	started := time.Now().UTC()
	oracleClient := oracle.New(
		v.GetString("oracle-url"),
		v.GetString("oracle-key"),
		v.GetString("oracle-model"),
	)
	proc := batch.NewProcessor(oracleClient, db, nil, slog.Default())
	summary, err := proc.Run(ctx, items, cfg, 0, nil)
	if err != nil {
		return err
	}
	slog.Info("batch finished",
		"success", summary.SuccessCount,
		"errors", summary.ErrorCount,
		"attempted", summary.TotalAttempted)

	records, err := db.ListEvaluationsSince(ctx, started)
	if err != nil {
		slog.Warn("could not load persisted records for the report", "error", err)
	}

	builder := report.NewBuilder(exportSettings(v))
	f, err := builder.BuildBatch(ctx, items.Items(), records, cfg)
	if err != nil {
		return err
	}
	out := v.GetString("output")
	if out == "" {
		out = report.BatchFileName(len(sheets), time.Now())
	}
	return saveWorkbook(f, out)
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLanguage(context.Background(), lang)

	records, err := db.ListEvaluations(ctx)
	if err != nil {
		return fmt.Errorf("load evaluations: %w", err)
	}

	key, _, err := db.GetAnswerKey(ctx)
	if err != nil {
		return fmt.Errorf("load answer key: %w", err)
	}

	// Stored records are all successful evaluations, so the rebuilt batch
	// view has completed items only.
	items := make([]model.BatchItem, 0, len(records))
	for _, rec := range records {
		items = append(items, model.BatchItem{
			FileName:       rec.FileName,
			Status:         model.StatusCompleted,
			RollNumber:     rec.RollNumber,
			SubjectCode:    rec.SubjectCode,
			Score:          rec.Score,
			TotalQuestions: rec.TotalQuestions,
			Accuracy:       rec.Accuracy,
		})
	}

	builder := report.NewBuilder(exportSettings(v))
	f, err := builder.BuildBatch(ctx, items, records, key)
	if err != nil {
		return err
	}
	out := v.GetString("output")
	if out == "" {
		out = report.BatchFileName(len(items), time.Now())
	}
	return saveWorkbook(f, out)
}
