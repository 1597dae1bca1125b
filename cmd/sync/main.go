// Command sync checks the Canvas connection and prints the reconciled
// course list, one JSON object per line.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"

	"lms-course-sync/internal/app"
	"lms-course-sync/internal/config"
	"lms-course-sync/internal/coursesync"
	"lms-course-sync/internal/devutil"
)

const defaultFields = "id,title,course_code,status,local_id"

func main() {
	var (
		refresh = flag.Bool("refresh", false, "refetch the approved catalog instead of using the cache")
		fields  = flag.String("fields", defaultFields, "comma separated course fields to print (empty prints everything)")
		timeout = flag.Duration("timeout", 5*time.Minute, "overall timeout")
	)
	flag.Parse()

	if err := run(*refresh, *fields, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(refresh bool, fields string, timeout time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.Build(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := a.Service.TestConnection(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, conn.Message)

	list, err := a.Service.GetCourses(ctx, refresh)
	if err != nil {
		return err
	}
	if list.Warning != "" {
		fmt.Fprintln(os.Stderr, "warning:", list.Warning)
	}
	if err := printCourses(os.Stdout, list, devutil.Fields(fields)); err != nil {
		return err
	}
	c := list.Counts
	fmt.Fprintf(os.Stderr, "%d courses: %d new, %d title exists, %d synced, %d omitted\n",
		len(list.Courses), c.New, c.Exists, c.Synced, c.Omitted)
	return nil
}

func printCourses(w io.Writer, list coursesync.CourseList, keys []string) error {
	enc := json.NewEncoder(w)
	for _, c := range list.Courses {
		var v any = c
		if len(keys) > 0 {
			v = devutil.Pick(c, keys...)
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}
