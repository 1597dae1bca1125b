// Command synccourses runs one administrative sync operation and prints
// its result as JSON.
//
//	synccourses -ids 101,102     import the given courses
//	synccourses -scheduled       run the unattended pipeline once
//	synccourses -omit 7,8        omit courses
//	synccourses -restore         clear the omitted set
//	synccourses -cleanup         demote tracking records of deleted items
//	synccourses -auto on|off     toggle the weekly schedule
//	synccourses -status          print the in-flight progress
//	synccourses -logs 50         print recent warnings and errors
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"lms-course-sync/internal/app"
	"lms-course-sync/internal/config"
	"lms-course-sync/internal/coursesync"
	"lms-course-sync/internal/devutil"
)

type options struct {
	ids       string
	scheduled bool
	omit      string
	restore   bool
	cleanup   bool
	auto      string
	status    bool
	logs      int
}

var errNoAction = errors.New("exactly one of -ids, -scheduled, -omit, -restore, -cleanup, -auto, -status or -logs is required")

func main() {
	var o options
	flag.StringVar(&o.ids, "ids", "", "comma separated Canvas course ids to import")
	flag.BoolVar(&o.scheduled, "scheduled", false, "run the scheduled sync pipeline once")
	flag.StringVar(&o.omit, "omit", "", "comma separated Canvas course ids to omit")
	flag.BoolVar(&o.restore, "restore", false, "restore all omitted courses")
	flag.BoolVar(&o.cleanup, "cleanup", false, "clean up orphaned tracking records")
	flag.StringVar(&o.auto, "auto", "", "turn auto-sync on or off")
	flag.BoolVar(&o.status, "status", false, "print the current sync status")
	flag.IntVar(&o.logs, "logs", 0, "print this many recent log lines")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall timeout")
	flag.Parse()

	if err := run(o, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(o options, timeout time.Duration) error {
	if o.actions() != 1 {
		return errNoAction
	}

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

	res, err := dispatch(ctx, a.Service, o)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func (o options) actions() int {
	n := 0
	for _, set := range []bool{o.ids != "", o.scheduled, o.omit != "", o.restore, o.cleanup, o.auto != "", o.status, o.logs > 0} {
		if set {
			n++
		}
	}
	return n
}

func dispatch(ctx context.Context, svc *coursesync.Service, o options) (any, error) {
	switch {
	case o.ids != "":
		ids, err := parseIDs(o.ids)
		if err != nil {
			return nil, err
		}
		return svc.SyncCourses(ctx, ids)
	case o.scheduled:
		if !svc.RunScheduledSync(ctx) {
			return nil, errors.New("scheduled sync failed; see the log for details")
		}
		return map[string]bool{"success": true}, nil
	case o.omit != "":
		ids, err := parseIDs(o.omit)
		if err != nil {
			return nil, err
		}
		return svc.OmitCourses(ctx, ids)
	case o.restore:
		return svc.RestoreOmitted(ctx)
	case o.cleanup:
		return svc.CleanupOrphaned(ctx)
	case o.auto != "":
		on, err := parseSwitch(o.auto)
		if err != nil {
			return nil, err
		}
		return svc.SetAutoSync(ctx, on)
	case o.status:
		return svc.GetSyncStatus(ctx), nil
	default:
		return svc.RecentLogs(ctx, o.logs)
	}
}

func parseIDs(v string) ([]int64, error) {
	fields := devutil.Fields(v)
	if len(fields) == 0 {
		return nil, errors.New("no course ids given")
	}
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid course id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseSwitch(v string) (bool, error) {
	switch v {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("-auto must be on or off, got %q", v)
}
