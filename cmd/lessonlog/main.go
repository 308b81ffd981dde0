package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"lessonlog/internal/app"
	"lessonlog/internal/backup"
	"lessonlog/internal/config"
	"lessonlog/internal/encryption"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var rbErr *backup.RollbackError
		if errors.As(err, &rbErr) {
			fmt.Fprintln(os.Stderr)
			fmt.Fprintln(os.Stderr, "!!! RESTORE ROLLBACK FAILED !!!")
			fmt.Fprintf(os.Stderr, "Your previous database was NOT put back. It is at:\n\n    %s\n\n", rbErr.RollbackPath)
			fmt.Fprintln(os.Stderr, "Copy that file over the live database before running lessonlog again.")
		}
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates a LessonApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "AddLesson", "CreateSnapshot").
func newApp(ctx context.Context, operation string, mutating bool) (*app.LessonApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewLessonApp(ctx, cfg, app.NewOperation(operation, mutating))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echoing input.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

var rootCmd = &cobra.Command{
	Use:          "lessonlog",
	Short:        "Lesson ledger with safe local backups",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if rate, _ := cmd.Flags().GetInt64("hourly-rate-cents"); rate > 0 {
			cfg.Billing.HourlyRateCents = rate
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Data Dir: %s\n", cfg.AppDataDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Data Dir:     %s\n", cfg.AppDataDir)
		fmt.Printf("Database:     %s\n", cfg.DatabasePath())
		fmt.Printf("Snapshots:    %s\n", cfg.BackupDir())
		fmt.Printf("Max Backups:  %d\n", cfg.Backup.MaxBackups)
		fmt.Printf("Log Dir:      %s (%s)\n", cfg.LogDir, cfg.LogLevel)
		fmt.Printf("Hourly Rate:  %s\n", formatCents(cfg.Billing.HourlyRateCents))
		if cfg.Backup.Mirror.Type == "" {
			fmt.Printf("Mirror:       none\n")
		} else {
			fmt.Printf("Mirror:       %s (encrypted: %v)\n", cfg.Backup.Mirror.Type, cfg.Backup.Mirror.Encrypt)
		}
		return nil
	},
}

var configSetMirrorCmd = &cobra.Command{
	Use:   "set-mirror TYPE",
	Short: "Set the external mirror (none, directory, s3, gcs)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		mc := config.MirrorConfig{Type: args[0]}
		if mc.Type == "none" {
			mc.Type = ""
		}
		mc.Encrypt, _ = flags.GetBool("encrypt")
		mc.Path, _ = flags.GetString("path")
		mc.S3Bucket, _ = flags.GetString("bucket")
		mc.GCSBucket = mc.S3Bucket
		prefix, _ := flags.GetString("prefix")
		mc.S3Prefix, mc.GCSPrefix = prefix, prefix
		mc.S3Region, _ = flags.GetString("region")
		mc.S3Endpoint, _ = flags.GetString("endpoint")
		mc.GCSCredentialsFile, _ = flags.GetString("credentials-file")
		switch mc.Type {
		case "s3":
			mc.GCSBucket, mc.GCSPrefix = "", ""
		case "gcs":
			mc.S3Bucket, mc.S3Prefix = "", ""
		}

		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.NewLessonApp(cmd.Context(), cfg, app.NewOperation("SetMirror", false))
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		if err := a.SetMirror(cmd.Context(), path, mc); err != nil {
			return err
		}
		fmt.Printf("Mirror set to %q in %s\n", args[0], path)
		return nil
	},
}

// encryption command
var encryptionCmd = &cobra.Command{
	Use:   "encryption",
	Short: "Manage mirror encryption keys",
}

var encryptionSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate the key pair used for encrypted mirrors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("encryption keys already exist at %s", cfg.Encryption.PublicKeyPath)
		}

		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := enc.Setup(pass); err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		fmt.Printf("Keys written to %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Println("Keep your passphrase safe: without it encrypted mirror copies cannot be read.")
		return nil
	},
}

// lesson command
var lessonCmd = &cobra.Command{
	Use:   "lesson",
	Short: "Record and list lessons",
}

var lessonAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Record a lesson",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		minutes, _ := flags.GetInt("minutes")
		category, _ := flags.GetString("category")
		value, _ := flags.GetInt64("value-cents")
		dateStr, _ := flags.GetString("date")

		date := time.Now()
		if dateStr != "" {
			d, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
			if err != nil {
				return fmt.Errorf("invalid date %q, want YYYY-MM-DD: %w", dateStr, err)
			}
			date = d
		}

		a, err := newApp(cmd.Context(), "AddLesson", true)
		if err != nil {
			return err
		}
		defer a.Close()

		lesson, err := a.AddLesson(app.LessonInput{
			Title:      args[0],
			Category:   category,
			Date:       date,
			Minutes:    minutes,
			ValueCents: value,
		})
		if err != nil {
			return fmt.Errorf("adding lesson: %w", err)
		}
		fmt.Printf("Added %s on %s: %s\n", lesson.Title, lesson.Date.Format("2006-01-02"), formatCents(lesson.ValueCents))
		return nil
	},
}

var lessonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent lessons",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "ListLessons", false)
		if err != nil {
			return err
		}
		defer a.Close()

		lessons, err := a.ListLessons(limit)
		if err != nil {
			return err
		}
		if len(lessons) == 0 {
			fmt.Println("No lessons recorded.")
			return nil
		}
		for _, l := range lessons {
			fmt.Printf("%s  %-8s  %4d min  %10s  %-7s  %s\n",
				l.Date.Format("2006-01-02"), l.Category, l.DurationMinutes,
				formatCents(l.ValueCents), l.Status, l.Title)
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list and restore database snapshots",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the live database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CreateSnapshot", false)
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.CreateSnapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		fmt.Printf("Snapshot created: %s (%d bytes)\n", snap.Path, snap.Size)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListSnapshots", false)
		if err != nil {
			return err
		}
		defer a.Close()

		snapshots, err := a.ListSnapshots()
		if err != nil {
			return err
		}
		if len(snapshots) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, s := range snapshots {
			fmt.Printf("%s  %10d  %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"), s.Size, s.Path)
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Replace the live database with a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd.Context(), "RestoreSnapshot", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RestoreSnapshot(cmd.Context(), args[0], force); err != nil {
			switch {
			case errors.Is(err, backup.ErrRollbackFailed):
				return err
			case errors.Is(err, backup.ErrSourceConflict):
				return fmt.Errorf("%w (copy the file to another name first)", err)
			case errors.Is(err, backup.ErrSwapFailed):
				return fmt.Errorf("restore failed, previous database kept: %w", err)
			default:
				return fmt.Errorf("restore failed: %w", err)
			}
		}
		fmt.Printf("Restored %s\n", args[0])
		return nil
	},
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots beyond the retention limit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Prune", false)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Prune()
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d snapshot(s)\n", n)
		return nil
	},
}

var backupInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the live database and its snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Info", false)
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.Info()
		if err != nil {
			return err
		}
		fmt.Printf("Database:   %s\n", info.Database.Path)
		if info.Database.Exists {
			fmt.Printf("Size:       %d bytes\n", info.Database.Size)
			fmt.Printf("Modified:   %s\n", info.Database.ModifiedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Lessons:    %d\n", info.Lessons)
		fmt.Printf("Snapshots:  %d of %d kept in %s\n", info.Snapshots, info.MaxBackups, info.SnapshotDir)
		if info.Mirror != "" {
			fmt.Printf("Mirror:     %s\n", info.Mirror)
		}
		return nil
	},
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify [FILE]",
	Short: "Check a snapshot (or the live database) for corruption",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "VerifySnapshot", false)
		if err != nil {
			return err
		}
		defer a.Close()

		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		if err := a.VerifySnapshot(target); err != nil {
			return err
		}
		if target == "" {
			target = "live database"
		}
		fmt.Printf("%s: ok\n", target)
		return nil
	},
}

var backupWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Snapshot the database whenever it changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Watch", false)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println("Watching for changes, press Ctrl-C to stop.")
		return a.Watch(ctx)
	},
}

var backupDecryptCmd = &cobra.Command{
	Use:   "decrypt ENCRYPTED OUTPUT",
	Short: "Decrypt an encrypted mirror copy so it can be restored",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if err := app.DecryptFile(enc, args[0], args[1], pass); err != nil {
			return err
		}
		fmt.Printf("Decrypted to %s\n", args[1])
		fmt.Printf("Restore it with: lessonlog backup restore %s\n", args[1])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().Int64("hourly-rate-cents", 0, "Hourly rate for new lessons, in cents")
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetMirrorCmd)
	configSetMirrorCmd.Flags().Bool("encrypt", false, "Encrypt mirror copies with the configured age key")
	configSetMirrorCmd.Flags().String("path", "", "Target directory (directory mirror)")
	configSetMirrorCmd.Flags().String("bucket", "", "Bucket name (s3 and gcs mirrors)")
	configSetMirrorCmd.Flags().String("prefix", "", "Object name prefix (s3 and gcs mirrors)")
	configSetMirrorCmd.Flags().String("region", "", "AWS region (s3 mirror)")
	configSetMirrorCmd.Flags().String("endpoint", "", "Custom S3 endpoint (s3 mirror)")
	configSetMirrorCmd.Flags().String("credentials-file", "", "Service account JSON (gcs mirror)")

	// encryption subcommands
	encryptionCmd.AddCommand(encryptionSetupCmd)

	// lesson subcommands
	lessonCmd.AddCommand(lessonAddCmd)
	lessonAddCmd.Flags().IntP("minutes", "m", 60, "Duration in minutes")
	lessonAddCmd.Flags().StringP("category", "c", "lesson", "Category (lesson or other)")
	lessonAddCmd.Flags().Int64("value-cents", 0, "Billed amount for categories other than lesson")
	lessonAddCmd.Flags().StringP("date", "d", "", "Date as YYYY-MM-DD (default today)")
	lessonCmd.AddCommand(lessonListCmd)
	lessonListCmd.Flags().IntP("limit", "n", 50, "Maximum number of lessons to show (0 for all)")

	// backup subcommands
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupRestoreCmd.Flags().Bool("force", false, "Restore even if the file fails verification")
	backupCmd.AddCommand(backupPruneCmd)
	backupCmd.AddCommand(backupInfoCmd)
	backupCmd.AddCommand(backupVerifyCmd)
	backupCmd.AddCommand(backupWatchCmd)
	backupCmd.AddCommand(backupDecryptCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(encryptionCmd)
	rootCmd.AddCommand(lessonCmd)
	rootCmd.AddCommand(backupCmd)
}
