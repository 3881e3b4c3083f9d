package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"inkwell/internal/config"
	"inkwell/internal/critic"
	"inkwell/internal/diag"
	"inkwell/internal/document"
	"inkwell/internal/knowledge"
	"inkwell/internal/perception"
	"inkwell/internal/store"
)

var docPath string

// runCmd watches the manuscript snapshot and drives both pipelines
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the manuscript snapshot and run both pipelines",
	Long: `Watches the document snapshot file the editor collaborator writes.
Every settled snapshot is re-sectionized into chapters; the critique
scheduler and the knowledge-graph engine then each decide independently,
by content hash, what work the change implies.`,
	RunE: runPipelines,
}

func init() {
	runCmd.Flags().StringVar(&docPath, "doc", "", "document snapshot path (default: <workspace>/.inkwell/document.json)")
}

func runPipelines(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	if docPath == "" {
		docPath = filepath.Join(workspace, ".inkwell", "document.json")
	}

	blobs, err := store.NewSQLiteStore(filepath.Join(workspace, cfg.Store.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}
	defer blobs.Close()

	bus := diag.NewBus(0)
	sink, err := diag.NewFileSink(filepath.Join(workspace, ".inkwell", "logs", "events.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer sink.Close()
	unsubscribe := bus.Subscribe(sink.Write)
	defer unsubscribe()

	router := perception.NewRouter()
	for task, model := range cfg.ModelOverrides {
		router.SetOverride(perception.TaskKind(task), model)
	}
	caller := perception.NewCaller(cfg.LLM.Endpoint, bus)

	sched := critic.NewScheduler(critic.Options{
		IdleThreshold: config.ParseDuration(cfg.Critic.IdleThreshold, critic.DefaultOptions().IdleThreshold),
		DebounceDelay: config.ParseDuration(cfg.Critic.DebounceDelay, critic.DefaultOptions().DebounceDelay),
		MinWords:      cfg.Critic.MinWords,
		MaxItems:      cfg.Critic.MaxItems,
		CallTimeout:   config.ParseDuration(cfg.LLM.Timeout, critic.DefaultOptions().CallTimeout),
		PromptLimit:   critic.DefaultOptions().PromptLimit,
	}, router, caller, blobs, bus)
	defer sched.Close()

	extractor := knowledge.NewExtractor(router, caller, cfg.Knowledge.GleanThreshold, cfg.Knowledge.MaxEntities)
	engine := knowledge.NewEngine(extractor, blobs, bus)

	unsubStatus := sched.Subscribe(func(snap critic.Snapshot) {
		for _, ch := range snap.Chapters {
			logger.Debug("chapter status",
				zap.String("id", ch.ID),
				zap.String("status", string(ch.Status)),
				zap.Int("words", ch.WordCount))
		}
	})
	defer unsubStatus()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	watchDir := filepath.Dir(docPath)
	if err := os.MkdirAll(watchDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := watcher.Add(watchDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", watchDir, err)
	}

	logger.Info("inkwell running",
		zap.String("doc", docPath),
		zap.String("endpoint", cfg.LLM.Endpoint))

	// Latest-wins handoff to the extraction pipeline: an unconsumed
	// older snapshot is replaced, never queued behind.
	docCh := make(chan *document.Tree, 1)
	offer := func(doc *document.Tree) {
		for {
			select {
			case docCh <- doc:
				return
			default:
				select {
				case <-docCh:
				default:
				}
			}
		}
	}

	consume := func() {
		doc, err := loadSnapshot(docPath)
		if err != nil {
			logger.Warn("failed to load snapshot", zap.Error(err))
			return
		}
		sched.Upsert(doc)
		offer(doc)
	}

	if _, err := os.Stat(docPath); err == nil {
		consume()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) != filepath.Clean(docPath) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				consume()
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Warn("watcher error", zap.Error(err))
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case doc := <-docCh:
				engine.Upsert(ctx, doc)
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}

func loadSnapshot(path string) (*document.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document.Tree
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &doc, nil
}
