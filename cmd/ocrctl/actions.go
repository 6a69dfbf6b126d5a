package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	httpadapter "github.com/kirillkom/ocr-intake/internal/adapters/http"
	"github.com/kirillkom/ocr-intake/internal/bootstrap"
	"github.com/kirillkom/ocr-intake/internal/config"
	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/usecase"
	"github.com/kirillkom/ocr-intake/internal/observability/logging"
)

type extractOutput struct {
	Entries  []domain.QueueEntry                `json:"entries"`
	Rejected []domain.Rejection                 `json:"rejected"`
	Results  map[string]domain.StructuredResult `json:"results"`
	Records  []domain.DocumentRecord            `json:"records,omitempty"`
}

func extractAction(c *cli.Context) error {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return cli.Exit("extract needs at least one FILE", 2)
	}

	ctx := c.Context
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, "ocrctl", c.String("log-level"))

	var (
		sessions  *usecase.SessionRegistry
		completer *usecase.CompleteUseCase
	)
	if c.Bool("save") {
		app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		defer app.Close()
		sessions, completer = app.Sessions, app.CompleteUC
	} else {
		scratch, err := os.MkdirTemp("", "ocrctl-*")
		if err != nil {
			return fmt.Errorf("create scratch storage: %w", err)
		}
		defer func() { _ = os.RemoveAll(scratch) }()
		cfg.StoragePath = scratch

		pipeline, err := bootstrap.NewPipeline(cfg, bootstrap.Options{Logger: logger})
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		sessions = pipeline.Sessions
	}
	if !sessions.Configured() {
		return cli.Exit(fmt.Sprintf("engine %q has no credential configured", cfg.OCREngine), 3)
	}

	uploads, closeAll, err := openUploads(paths)
	if err != nil {
		return err
	}
	defer closeAll()

	session := sessions.Create(ctx)
	defer func() { _ = sessions.Delete(ctx, session.ID()) }()

	report, err := session.AddFiles(ctx, uploads)
	if err != nil {
		return err
	}

	results, err := session.ProcessAll(ctx, usecase.ProcessOptions{Structure: c.Bool("structure")})
	if err != nil {
		return err
	}

	out := extractOutput{
		Entries:  session.Snapshot().Entries,
		Rejected: report.Rejected,
		Results:  results,
	}
	if completer != nil {
		records, err := completer.Complete(ctx, session)
		if err != nil {
			return err
		}
		out.Records = records
	}
	return writeJSON(c.App.Writer, out)
}

func statusAction(c *cli.Context) error {
	cfg := config.Load()
	scratch, err := os.MkdirTemp("", "ocrctl-*")
	if err != nil {
		return fmt.Errorf("create scratch storage: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()
	cfg.StoragePath = scratch

	logger := logging.NewJSONLoggerTo(os.Stderr, "ocrctl", c.String("log-level"))
	pipeline, err := bootstrap.NewPipeline(cfg, bootstrap.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return writeJSON(c.App.Writer, httpadapter.BuildStatus(pipeline.Sessions, cfg.OCRMaxFiles))
}

// openUploads opens every path. The mime type comes from the extension and
// falls back to content sniffing.
func openUploads(paths []string) ([]domain.Upload, func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	uploads := make([]domain.Upload, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open %s: %w", path, err)
		}
		files = append(files, f)

		info, err := f.Stat()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("stat %s: %w", path, err)
		}
		mimeType, err := detectMime(f, path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		uploads = append(uploads, domain.Upload{
			Name:      filepath.Base(path),
			MimeType:  mimeType,
			SizeBytes: info.Size(),
			Body:      f,
		})
	}
	return uploads, closeAll, nil
}

func detectMime(f io.ReadSeeker, path string) (string, error) {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt, nil
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", path, err)
	}
	return http.DetectContentType(head[:n]), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
