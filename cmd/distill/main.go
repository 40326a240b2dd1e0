// Package main provides the distill command line interface: registering
// session transcripts, creating compressed versions, and composing
// multi-session artifacts under a token budget.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/distill/pkg/compose"
	"github.com/entrhq/distill/pkg/compressor"
	"github.com/entrhq/distill/pkg/config"
	"github.com/entrhq/distill/pkg/lockreg"
	"github.com/entrhq/distill/pkg/manifest"
	"github.com/entrhq/distill/pkg/session"
	"github.com/entrhq/distill/pkg/settings"
	"github.com/entrhq/distill/pkg/tokenizer"
	"github.com/entrhq/distill/pkg/types"
	"github.com/entrhq/distill/pkg/version"
)

const cliVersion = "0.1.0"

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	defer cancel()

	if err := dispatch(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "distill v%s - session transcript compression manager\n\n", cliVersion)
	fmt.Fprintf(os.Stderr, "Usage: distill <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  register            Register a transcript with a project\n")
	fmt.Fprintf(os.Stderr, "  scan                Register every transcript under a directory\n")
	fmt.Fprintf(os.Stderr, "  compress            Create a new compressed version\n")
	fmt.Fprintf(os.Stderr, "  recompress          Re-compress an existing part at a new level\n")
	fmt.Fprintf(os.Stderr, "  versions            List a session's compression versions\n")
	fmt.Fprintf(os.Stderr, "  delete-version      Delete a compression version\n")
	fmt.Fprintf(os.Stderr, "  status              Show a session's pending delta\n")
	fmt.Fprintf(os.Stderr, "  compose             Assemble a multi-session composition\n")
	fmt.Fprintf(os.Stderr, "  compositions        List a project's compositions\n")
	fmt.Fprintf(os.Stderr, "  delete-composition  Delete a composition and its artifact\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  distill register -project docs -session kickoff -transcript kickoff.jsonl\n")
	fmt.Fprintf(os.Stderr, "  distill compress -project docs -settings compress.json\n")
	fmt.Fprintf(os.Stderr, "  distill compose -project docs -settings compose.json\n")
}

// app bundles the wired subsystems shared by every command.
type app struct {
	cfg     config.Config
	dataDir string
	store   *manifest.FileStore
	mlock   *manifest.FileLock
	files   *version.FileStore
	tok     *tokenizer.Tokenizer
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}
	store, err := manifest.NewFileStore(filepath.Join(dataDir, "manifests"))
	if err != nil {
		return nil, err
	}
	files, err := version.NewFileStore(filepath.Join(dataDir, "versions"))
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.New()
	if err != nil {
		return nil, err
	}
	mlock := manifest.NewFileLock(filepath.Join(dataDir, "locks"),
		cfg.ManifestLockStale, cfg.ManifestRetries, cfg.ManifestBackoff)
	return &app{cfg: cfg, dataDir: dataDir, store: store, mlock: mlock, files: files, tok: tok}, nil
}

func (a *app) manager() (*version.Manager, error) {
	svc, err := compressor.NewOpenAIService("", compressor.WithModel(a.cfg.Model))
	if err != nil {
		return nil, err
	}
	locks := lockreg.New(a.cfg.SessionLockStale)
	return version.NewManager(a.cfg, locks, a.store, a.mlock, svc, a.files, a.tok), nil
}

func (a *app) engine() (*compose.Engine, error) {
	return compose.NewEngine(a.store, a.mlock, a.files, a.tok,
		filepath.Join(a.dataDir, "compositions"))
}

func dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "register":
		return cmdRegister(args)
	case "scan":
		return cmdScan(args)
	case "compress":
		return cmdCompress(ctx, args)
	case "recompress":
		return cmdRecompress(ctx, args)
	case "versions":
		return cmdVersions(args)
	case "delete-version":
		return cmdDeleteVersion(args)
	case "status":
		return cmdStatus(args)
	case "compose":
		return cmdCompose(args)
	case "compositions":
		return cmdCompositions(args)
	case "delete-composition":
		return cmdDeleteComposition(args)
	case "version", "-version", "--version":
		fmt.Printf("distill v%s\n", cliVersion)
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// commonFlags registers the flags every command shares and returns pointers
// to their values.
func commonFlags(fs *flag.FlagSet) (project, configPath *string) {
	project = fs.String("project", "", "Project identifier (required)")
	configPath = fs.String("config", "", "Path to config YAML (default ~/.distill/config.yaml)")
	return project, configPath
}

func requireProject(project string) error {
	if project == "" {
		return fmt.Errorf("-project is required")
	}
	return nil
}

func cmdRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	project, configPath := commonFlags(fs)
	sessionID := fs.String("session", "", "Session identifier (default derived from file name)")
	transcript := fs.String("transcript", "", "Path to the JSONL transcript (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}
	if *transcript == "" {
		return fmt.Errorf("-transcript is required")
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	mgr, err := a.manager()
	if err != nil {
		return err
	}

	id := *sessionID
	if id == "" {
		id = session.SessionIDFromPath(*transcript)
	}
	entry, err := mgr.RegisterSession(*project, id, *transcript)
	if err != nil {
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("registered %s: %d messages, %d tokens, %d markers",
		entry.ID, entry.MessageCount, entry.OriginalTokens, len(entry.Markers))))
	return nil
}

func cmdScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	project, configPath := commonFlags(fs)
	root := fs.String("root", ".", "Directory to scan")
	pattern := fs.String("pattern", "**.jsonl", "Transcript glob pattern, matched against paths relative to root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	mgr, err := a.manager()
	if err != nil {
		return err
	}

	paths, err := session.Scan(*root, *pattern)
	if err != nil {
		return err
	}
	registered := 0
	for _, path := range paths {
		id := session.SessionIDFromPath(path)
		entry, err := mgr.RegisterSession(*project, id, path)
		if err != nil {
			if types.KindOf(err) == types.KindConflict {
				fmt.Println(dimStyle.Render("skip " + id + " (already registered)"))
				continue
			}
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("registered %s: %d tokens", entry.ID, entry.OriginalTokens)))
		registered++
	}
	fmt.Printf("%d transcripts registered\n", registered)
	return nil
}

func cmdCompress(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compress", flag.ExitOnError)
	project, configPath := commonFlags(fs)
	settingsPath := fs.String("settings", "", "Path to the compression settings JSON (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}

	req, err := loadCompression(*settingsPath)
	if err != nil {
		return err
	}
	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	mgr, err := a.manager()
	if err != nil {
		return err
	}

	rec, err := mgr.CreateVersion(ctx, *project, req)
	if err != nil {
		return err
	}
	printRecord(rec)
	return nil
}

func cmdRecompress(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recompress", flag.ExitOnError)
	project, configPath := commonFlags(fs)
	settingsPath := fs.String("settings", "", "Path to the compression settings JSON (required)")
	part := fs.Int("part", 0, "Part number to re-compress (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}
	if *part < 1 {
		return fmt.Errorf("-part is required and must be >= 1")
	}

	req, err := loadCompression(*settingsPath)
	if err != nil {
		return err
	}
	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	mgr, err := a.manager()
	if err != nil {
		return err
	}

	rec, err := mgr.RecompressPart(ctx, *project, req.SessionID, *part, req)
	if err != nil {
		return err
	}
	printRecord(rec)
	return nil
}

func cmdVersions(args []string) error {
	fs := flag.NewFlagSet("versions", flag.ExitOnError)
	project, configPath := commonFlags(fs)
	sessionID := fs.String("session", "", "Session identifier (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("-session is required")
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	records, err := version.NewManager(a.cfg, lockreg.New(a.cfg.SessionLockStale), a.store, a.mlock, nil, a.files, a.tok).
		ListVersions(*project, *sessionID)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%s: %d versions", *sessionID, len(records))))
	for i := range records {
		r := &records[i]
		span := "full session"
		if !r.FullSession {
			span = fmt.Sprintf("messages [%d,%d)", r.Range.StartIndex, r.Range.EndIndex)
		}
		fmt.Printf("  v%-3d part %-2d %-10s %-7s %6d tokens  ratio %.1f  %s\n",
			r.VersionID, r.PartNumber, r.Level, r.Mode, r.OutputTokens, r.Ratio, span)
	}
	return nil
}

func cmdDeleteVersion(args []string) error {
	fs := flag.NewFlagSet("delete-version", flag.ExitOnError)
	project, configPath := commonFlags(fs)
	sessionID := fs.String("session", "", "Session identifier (required)")
	versionID := fs.String("version", "", "Version identifier (required)")
	force := fs.Bool("force", false, "Delete even when referenced by a composition")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}
	if *sessionID == "" || *versionID == "" {
		return fmt.Errorf("-session and -version are required")
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	mgr := version.NewManager(a.cfg, lockreg.New(a.cfg.SessionLockStale), a.store, a.mlock, nil, a.files, a.tok)
	if err := mgr.DeleteVersion(*project, *sessionID, *versionID, *force); err != nil {
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("deleted version %s of %s", *versionID, *sessionID)))
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	project, configPath := commonFlags(fs)
	sessionID := fs.String("session", "", "Session identifier (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("-session is required")
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	mgr := version.NewManager(a.cfg, lockreg.New(a.cfg.SessionLockStale), a.store, a.mlock, nil, a.files, a.tok)
	status, err := mgr.DeltaStatus(*project, *sessionID)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render(*sessionID))
	if status.PendingMessages == 0 {
		fmt.Println(dimStyle.Render("  no pending delta"))
		return nil
	}
	fmt.Printf("  %d messages pending since %s\n",
		status.PendingMessages, status.SinceTimestamp.Format(time.RFC3339))
	fmt.Printf("  next delta compression would create part %d\n", status.NextPartNumber)
	return nil
}

func cmdCompose(args []string) error {
	fs := flag.NewFlagSet("compose", flag.ExitOnError)
	project, configPath := commonFlags(fs)
	settingsPath := fs.String("settings", "", "Path to the composition settings JSON (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}
	if *settingsPath == "" {
		return fmt.Errorf("-settings is required")
	}

	raw, err := os.ReadFile(*settingsPath)
	if err != nil {
		return fmt.Errorf("read settings %s: %w", *settingsPath, err)
	}
	req, err := settings.ParseComposition(raw)
	if err != nil {
		return err
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	eng, err := a.engine()
	if err != nil {
		return err
	}

	rec, path, err := eng.Compose(*project, req)
	if err != nil {
		var needs *compose.NeedsNewCompressionError
		if errors.As(err, &needs) {
			fmt.Println(errorStyle.Render(needs.Error()))
			fmt.Println(dimStyle.Render(fmt.Sprintf(
				"  run: distill compress -project %s with ratio %d for session %s",
				*project, needs.SuggestedRatio, needs.SessionID)))
		}
		return err
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("composition %s: %d tokens across %d sessions",
		rec.ID, rec.TotalTokens, len(rec.Components))))
	for _, c := range rec.Components {
		fmt.Printf("  %-20s version %-10s allocated %6d  used %6d tokens\n",
			c.SessionID, c.UsedVersionID, c.AllocatedTokens, c.ActualTokens)
	}
	fmt.Println(dimStyle.Render("  artifact: " + path))
	return nil
}

func cmdCompositions(args []string) error {
	fs := flag.NewFlagSet("compositions", flag.ExitOnError)
	project, configPath := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	eng, err := a.engine()
	if err != nil {
		return err
	}
	records, err := eng.List(*project)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%s: %d compositions", *project, len(records))))
	for i := range records {
		r := &records[i]
		fmt.Printf("  %s  %-12s %-8s %6d tokens  %d sessions  %s\n",
			r.ID, r.Strategy, r.Format, r.TotalTokens, len(r.Components),
			r.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func cmdDeleteComposition(args []string) error {
	fs := flag.NewFlagSet("delete-composition", flag.ExitOnError)
	project, configPath := commonFlags(fs)
	id := fs.String("id", "", "Composition identifier (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	eng, err := a.engine()
	if err != nil {
		return err
	}
	if err := eng.Delete(*project, *id); err != nil {
		return err
	}
	fmt.Println(successStyle.Render("deleted composition " + *id))
	return nil
}

func loadCompression(path string) (*settings.Compression, error) {
	if path == "" {
		return nil, fmt.Errorf("-settings is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	return settings.ParseCompression(raw)
}

func printRecord(rec *types.CompressionRecord) {
	fmt.Println(successStyle.Render(fmt.Sprintf("created version %d (part %d, %s, %s)",
		rec.VersionID, rec.PartNumber, rec.Mode, rec.Level)))
	fmt.Printf("  output: %d tokens in %d blocks, ratio %.1f\n",
		rec.OutputTokens, rec.OutputCount, rec.Ratio)
	fmt.Printf("  preservation: %d verbatim, %d summarized\n",
		rec.Preservation.Preserved, rec.Preservation.Summarized)
	fmt.Println(dimStyle.Render("  file: " + rec.FileName))
}
