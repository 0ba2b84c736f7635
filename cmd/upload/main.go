package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/topasiaedu/transcribe-upload/internal/app"
	"github.com/topasiaedu/transcribe-upload/internal/chunker"
	"github.com/topasiaedu/transcribe-upload/internal/config"
	"github.com/topasiaedu/transcribe-upload/internal/logger"
	"github.com/topasiaedu/transcribe-upload/internal/models"
	"github.com/topasiaedu/transcribe-upload/internal/storage"
	"github.com/topasiaedu/transcribe-upload/internal/upload"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("upload", flag.ContinueOnError)
	flags.SetOutput(stderr)
	folder := flags.String("folder", "", "folder id to file the tasks under")
	lang := flags.String("lang", models.DefaultLanguage, "transcription language: auto|en|zh|ms")
	dryRun := flags.Bool("dry-run", false, "upload into in-memory stores instead of the configured backends")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: upload [-folder ID] [-lang CODE] [-dry-run] file...")
		return 2
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	log := logger.New(logger.Options{
		ServiceName: "upload",
		Level:       logger.ParseLevel(cfg.Service.LogLevel),
		Format:      "console",
		Output:      stderr,
	})

	service, closeFn, err := newService(ctx, cfg, *dryRun, log)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer closeFn()

	files, err := openFiles(flags.Args())
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer closeFiles(files)

	c, err := chunker.NewChunker(cfg.GetChunkSizeBytes(), nil)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	for _, f := range files {
		note := ""
		if c.NeedsChunking(f.Size) {
			plan, err := c.Plan(f.Size)
			if err == nil {
				note = fmt.Sprintf(" (will be chunked into %d parts)", plan.TotalChunks)
			}
		}
		fmt.Fprintf(stdout, "%s  %s%s\n", f.Name, chunker.FormatSize(f.Size), note)
	}

	opts := upload.BatchOptions{
		Language: *lang,
		OnProgress: func(fileName, taskID string, percent int) {
			fmt.Fprintf(stdout, "%s [%s] %d%%\n", fileName, taskID, percent)
		},
	}
	if *folder != "" {
		opts.FolderID = folder
	}

	result := service.UploadBatch(ctx, files, opts)
	for _, fr := range result.Files {
		if fr.Err != nil {
			fmt.Fprintf(stdout, "FAILED  %s: %v\n", fr.FileName, fr.Err)
			continue
		}
		fmt.Fprintf(stdout, "OK      %s -> task %s (%d chunk(s))\n", fr.FileName, fr.TaskID, fr.TotalChunks)
	}
	fmt.Fprintf(stdout, "%d succeeded, %d failed\n", result.Succeeded(), result.Failed())
	if result.Err() != nil {
		return 1
	}
	return 0
}

func newService(ctx context.Context, cfg *config.Config, dryRun bool, log *logger.Logger) (*upload.Service, func(), error) {
	if dryRun {
		service, err := app.NewService(cfg, storage.NewMemoryObjects("memory://"+cfg.Storage.Bucket), storage.NewMemoryStore(), nil, nil, log)
		return service, func() {}, err
	}

	store, err := storage.NewSQLStore(ctx, cfg.DB.Driver, cfg.GetDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	objects, err := app.NewObjectBackend(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	service, err := app.NewService(cfg, objects, store, nil, nil, log)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return service, func() { store.Close() }, nil
}

func openFiles(paths []string) ([]models.MediaFile, error) {
	files := make([]models.MediaFile, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeFiles(files)
			return nil, fmt.Errorf("failed to open %s: %w", p, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			closeFiles(files)
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		files = append(files, models.MediaFile{
			Name:        filepath.Base(p),
			Size:        info.Size(),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			Content:     f,
		})
	}
	return files, nil
}

func closeFiles(files []models.MediaFile) {
	for _, f := range files {
		f.Content.(*os.File).Close()
	}
}
