package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/verbaquest/chime/internal/caps"
	"github.com/verbaquest/chime/internal/codec"
	"github.com/verbaquest/chime/internal/config"
	"github.com/verbaquest/chime/internal/events"
	"github.com/verbaquest/chime/internal/manifest"
	"github.com/verbaquest/chime/internal/preload"
	"github.com/verbaquest/chime/internal/tracking"
)

func newPlayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <id>...",
		Short: "Load and play one or more clips",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPlayE,
	}
	cmd.Flags().Bool("no-wait", false, "Start playback without waiting for it to finish")
	return cmd
}

func runPlayE(cmd *cobra.Command, args []string) error {
	c := cliFromContext(cmd.Context())
	if c == nil {
		return fmt.Errorf("internal error: CLI not found in context")
	}

	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	eng, err := c.buildEngine(cmd, cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if eng.RequiresUnlock() {
		if err := eng.NotifyGesture(ctx); err != nil {
			return fmt.Errorf("failed to unlock audio: %w", err)
		}
	}

	noWait, _ := cmd.Flags().GetBool("no-wait")

	for _, id := range args {
		if err := eng.Load(ctx, id); err != nil {
			return fmt.Errorf("failed to load %s: %w", id, err)
		}

		ended := make(chan struct{})
		var token int
		if !noWait {
			token = eng.AddListener(events.TypeEnd, func(ev events.Event) {
				if ev.ClipID == id {
					close(ended)
				}
			})
		}

		if err := eng.Play(id); err != nil {
			if !noWait {
				eng.RemoveListener(token)
			}
			return fmt.Errorf("failed to play %s: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "playing %s (%s)\n", id, eng.GetDuration(id))

		if noWait {
			continue
		}

		select {
		case <-ended:
		case <-time.After(eng.GetDuration(id) + 2*time.Second):
			fmt.Fprintf(cmd.ErrOrStderr(), "timed out waiting for %s to finish\n", id)
		}
		eng.RemoveListener(token)
	}

	return nil
}

func newPreloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preload <id>...",
		Short: "Batch-load clips with bounded concurrency",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPreloadE,
	}
	cmd.Flags().Int("concurrency", preload.DefaultMaxConcurrent, "Maximum concurrent loads")
	cmd.Flags().Int("retries", preload.DefaultRetryAttempts, "Retry attempts per failed clip")
	cmd.Flags().Int("timeout-ms", int(preload.DefaultTimeout.Milliseconds()), "Per-clip load timeout in milliseconds")
	return cmd
}

func runPreloadE(cmd *cobra.Command, args []string) error {
	c := cliFromContext(cmd.Context())
	if c == nil {
		return fmt.Errorf("internal error: CLI not found in context")
	}

	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	eng, err := c.buildEngine(cmd, cfg)
	if err != nil {
		return err
	}

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	retries, _ := cmd.Flags().GetInt("retries")
	timeoutMS, _ := cmd.Flags().GetInt("timeout-ms")

	token := eng.AddListener(events.TypePreloadProgress, func(ev events.Event) {
		fmt.Fprintf(cmd.OutOrStdout(), "  [%d/%d] %s\n", ev.Loaded+ev.Failed, ev.Total, ev.ClipID)
	})
	defer eng.RemoveListener(token)

	started := time.Now()
	result := eng.Preload(cmd.Context(), args, preload.Options{
		MaxConcurrent: concurrency,
		RetryAttempts: retries,
		Timeout:       time.Duration(timeoutMS) * time.Millisecond,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "preloaded %d/%d clips in %s\n",
		len(result.Successful), len(result.Successful)+len(result.Failed),
		time.Since(started).Round(time.Millisecond))

	if len(result.Failed) > 0 {
		for _, f := range result.Failed {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s: %v\n", f.ID, f.Err)
		}
		return fmt.Errorf("%d clips failed to preload", len(result.Failed))
	}
	return nil
}

func newManifestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect the audio manifest",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the manifest against its own integrity declarations",
		RunE:  runManifestValidateE,
	})
	return cmd
}

func runManifestValidateE(cmd *cobra.Command, args []string) error {
	c := cliFromContext(cmd.Context())
	if c == nil {
		return fmt.Errorf("internal error: CLI not found in context")
	}

	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	source, _, err := manifestSource(cfg)
	if err != nil {
		return err
	}

	m, err := manifest.NewLoader(source).Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "manifest version: %s\n", m.Version)
	fmt.Fprintf(out, "entries: %d in %d categories\n", m.EntryCount(), len(m.Categories))
	fmt.Fprintf(out, "formats: default=%s fallback=%s supported=%v\n",
		m.DefaultFormat, m.FallbackFormat, m.SupportedFormats)

	problems := m.IntegrityProblems()
	if len(problems) == 0 {
		fmt.Fprintln(out, "integrity: ok")
		return nil
	}

	for _, p := range problems {
		fmt.Fprintf(cmd.ErrOrStderr(), "problem: %s\n", p)
	}
	return fmt.Errorf("manifest has %d integrity problems", len(problems))
}

func newCapsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Show detected environment capabilities",
		RunE:  runCapsE,
	}
}

func runCapsE(cmd *cobra.Command, args []string) error {
	codecs := codec.NewDefaultRegistry()
	detector := caps.NewDetector(codecs)
	detected := detector.Detect()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "browser: %s %s\n", orUnknown(detected.BrowserName), detected.BrowserVersion)
	fmt.Fprintf(out, "mobile: %v (ios=%v android=%v)\n", detected.IsMobile, detected.IsIOS, detected.IsAndroid)
	fmt.Fprintf(out, "requires gesture unlock: %v\n", detected.RequiresGesture)
	fmt.Fprintf(out, "audio device: %v\n", detected.SupportsAudioDevice)

	fmt.Fprintln(out, "formats:")
	for _, format := range codecs.SupportedFormats() {
		fmt.Fprintf(out, "  %-5s %s\n", format, detector.CanPlayFormat(format))
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func newAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Summarize recorded engine events",
		RunE:  runAnalyzeE,
	}
	cmd.Flags().Int("failures", 10, "Number of recent load failures to show")
	return cmd
}

func runAnalyzeE(cmd *cobra.Command, args []string) error {
	c := cliFromContext(cmd.Context())
	if c == nil {
		return fmt.Errorf("internal error: CLI not found in context")
	}

	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	trackingCfg := cfg.Tracking
	if trackingCfg == nil {
		trackingCfg = config.GetDefaultTrackingConfig()
	}

	dbPath := trackingCfg.DatabasePath
	if dbPath == "" {
		dbPath, err = tracking.GetDatabasePath()
		if err != nil {
			return fmt.Errorf("failed to resolve tracking database path: %w", err)
		}
	}

	db, err := tracking.NewDatabase(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open tracking database: %w", err)
	}
	defer db.Close()

	recorder := tracking.NewRecorder(db)

	summary, err := recorder.Summarize()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(summary) == 0 {
		fmt.Fprintln(out, "no recorded events")
		return nil
	}

	fmt.Fprintln(out, "events by type:")
	for _, tc := range summary {
		fmt.Fprintf(out, "  %-20s %d\n", tc.EventType, tc.Count)
	}

	limit, _ := cmd.Flags().GetInt("failures")
	failures, err := recorder.RecentFailures(limit)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		fmt.Fprintln(out, "recent load failures:")
		for _, f := range failures {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}
	return nil
}
