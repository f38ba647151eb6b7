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

	"github.com/sirupsen/logrus"

	"github.com/streamforge/backend/internal/uploader"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, uploader.ErrPaused) {
			fmt.Fprintln(os.Stderr, "transfer paused, run resume to continue")
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: streamforge-upload <command> [flags]

commands:
  start   -file <path> -title <title> [-priority high|normal|low]
  resume  -file <path>
  cancel  -file <path>
  list
  prune
`)
}

func run(args []string) error {
	if len(args) < 1 {
		usage()
		return fmt.Errorf("missing command")
	}
	command, args := args[0], args[1:]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	server := fs.String("server", envOr("STREAMFORGE_SERVER", "http://localhost:8080"), "control plane base URL")
	stateDir := fs.String("state-dir", defaultStateDir(), "directory for resumable session records")
	file := fs.String("file", "", "path of the file to transfer")
	title := fs.String("title", "", "video title")
	priority := fs.String("priority", "normal", "processing priority (high, normal, low)")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	store, err := uploader.NewStore(*stateDir)
	if err != nil {
		return err
	}
	client := uploader.NewClient(*server+"/api/v1", nil)
	manager := uploader.NewManager(client, store, &uploader.Options{
		OnProgress: func(uploaded, total int) {
			fmt.Fprintf(os.Stderr, "\ruploaded %d/%d parts", uploaded, total)
			if uploaded == total {
				fmt.Fprintln(os.Stderr)
			}
		},
	}, log)

	ctx := context.Background()

	switch command {
	case "start":
		if *file == "" || *title == "" {
			return fmt.Errorf("start requires -file and -title")
		}
		return transfer(ctx, manager, log, func() (*uploader.SessionRecord, error) {
			return manager.Start(ctx, *file, *title, *priority)
		})
	case "resume":
		if *file == "" {
			return fmt.Errorf("resume requires -file")
		}
		return transfer(ctx, manager, log, func() (*uploader.SessionRecord, error) {
			return manager.Resume(ctx, *file)
		})
	case "cancel":
		if *file == "" {
			return fmt.Errorf("cancel requires -file")
		}
		return manager.Cancel(ctx, *file)
	case "list":
		return list(store)
	case "prune":
		removed, err := store.Prune(time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("removed %d session records\n", removed)
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// transfer runs a blocking upload. The first interrupt pauses at the next
// part boundary so the session stays resumable; a second interrupt kills
// the process.
func transfer(ctx context.Context, manager *uploader.Manager, log *logrus.Logger, fn func() (*uploader.SessionRecord, error)) error {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		log.Info("Interrupt received, pausing at next part boundary")
		manager.Pause()
	}()

	rec, err := fn()
	if err != nil {
		return err
	}
	fmt.Printf("video %s %s\n", rec.VideoID, rec.State)
	return nil
}

func list(store *uploader.Store) error {
	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%-36s %-10s %3d/%-3d parts  %s\n",
			rec.VideoID, rec.State, rec.UploadedCount(), rec.TotalParts, rec.FilePath)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".streamforge"
	}
	return filepath.Join(home, ".streamforge", "sessions")
}
