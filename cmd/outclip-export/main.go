package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/outclip/outclip/internal/editorexport"
	"github.com/outclip/outclip/internal/outclip"
)

func main() {
	_ = godotenv.Load()

	daemonURL := flag.String("daemon-url", envOrDefault("OUTCLIP_DAEMON_URL", "http://127.0.0.1:8930"), "outclip daemon base URL")
	daemonToken := flag.String("daemon-token", strings.TrimSpace(os.Getenv("OUTCLIP_API_TOKEN")), "daemon bearer token")
	action := flag.String("action", "saveDocument", "export action: saveDocument or importSheet")
	exportURL := flag.String("url", "", "editor export URL to fetch")
	title := flag.String("title", "", "document title (defaults to the export file name)")
	sourceURL := flag.String("source-url", "", "original document URL recorded in the header")
	author := flag.String("author", strings.TrimSpace(os.Getenv("OUTCLIP_AUTHOR")), "author recorded in the header")
	withHeader := flag.Bool("with-header", true, "prepend or append a metadata header")
	headerPosition := flag.String("header-position", "top", "header position: top or bottom")
	timeout := flag.Duration("timeout", durationEnv("OUTCLIP_EXPORT_TIMEOUT", 90*time.Second), "overall export timeout")
	flag.Parse()

	if strings.TrimSpace(*exportURL) == "" {
		log.Fatalf("url is required (--url)")
	}
	if *timeout <= 0 {
		*timeout = 90 * time.Second
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(rootCtx, *timeout)
	defer cancel()

	fetcher := editorexport.NewFetcher(&http.Client{Timeout: *timeout})

	var file editorexport.ExportedFile
	var err error
	switch *action {
	case string(outclip.ActionSaveDocument):
		file, err = fetcher.FetchDocument(ctx, *exportURL)
	case string(outclip.ActionImportSheet):
		file, err = fetcher.FetchSheet(ctx, *exportURL)
	default:
		log.Fatalf("unsupported action %q", *action)
	}
	if err != nil {
		log.Fatalf("fetching export failed: %v", err)
	}

	resolvedTitle := strings.TrimSpace(*title)
	if resolvedTitle == "" {
		resolvedTitle = titleFromFileName(file.FileName)
	}

	request := outclip.ActionRequest{
		Action: *action,
		Title:  resolvedTitle,
	}
	if *action == string(outclip.ActionSaveDocument) {
		request.Content = string(file.Content)
	} else {
		request.FileContent = string(file.Content)
	}
	if *withHeader {
		request.HeaderBlock = outclip.BuildHeaderBlock(outclip.HeaderMeta{
			Title:     resolvedTitle,
			SourceURL: strings.TrimSpace(*sourceURL),
			Author:    strings.TrimSpace(*author),
			ClippedAt: time.Now().UTC(),
		})
		request.HeaderPosition = strings.TrimSpace(*headerPosition)
	}

	client := editorexport.NewDaemonClient(*daemonURL, *daemonToken, &http.Client{Timeout: *timeout})
	result, err := client.Execute(ctx, request)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	if !result.Success {
		log.Fatalf("export failed (%s): %s", result.ErrorKind, result.Error)
	}
	fmt.Println(result.URL)
}

// titleFromFileName strips the export's file extension, so "Notes.txt" names
// the document "Notes".
func titleFromFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
