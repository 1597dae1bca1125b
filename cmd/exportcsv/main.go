// Command exportcsv writes the tracking table as CSV and optionally
// uploads the file over SFTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lms-course-sync/internal/app"
	"lms-course-sync/internal/config"
	"lms-course-sync/internal/export"
)

func main() {
	var (
		outPath    = flag.String("out", "", "output csv path (default course-tracking-YYYYMMDD.csv)")
		siteURL    = flag.String("site", "", "site base URL for the COURSE_URL column (default notify.site_url)")
		uploadSFTP = flag.Bool("sftp", false, "upload the generated CSV via SFTP")
		timeout    = flag.Duration("timeout", 5*time.Minute, "overall timeout")
	)
	flag.Parse()

	if err := run(*outPath, *siteURL, *uploadSFTP, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(outPath, siteURL string, upload bool, timeout time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.Build(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.Log

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if outPath == "" {
		outPath = defaultName(time.Now())
	}
	if siteURL == "" {
		siteURL = cfg.Notify.SiteURL
	}

	records, err := a.Store.ListTracking(ctx)
	if err != nil {
		return err
	}
	if err := writeFile(outPath, func(f *os.File) error {
		return export.WriteTrackingCSV(f, records, siteURL)
	}); err != nil {
		return err
	}
	log.Info().Int("records", len(records)).Str("path", outPath).Msg("tracking csv written")

	if !upload {
		return nil
	}
	up, err := a.SFTP()
	if err != nil {
		return err
	}
	remote, err := up.UploadFile(ctx, outPath, filepath.Base(outPath))
	if err != nil {
		return err
	}
	log.Info().Str("remote_path", remote).Msg("tracking csv uploaded")
	return nil
}

func defaultName(now time.Time) string {
	return "course-tracking-" + now.Format("20060102") + ".csv"
}

// writeFile creates path (and its directory) and closes it after fn.
func writeFile(path string, fn func(*os.File) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
