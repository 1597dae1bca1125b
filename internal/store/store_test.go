package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"lms-course-sync/internal/domain"
	"lms-course-sync/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("Expected no error opening store, got %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func importCourse(t *testing.T, s *Store, remoteID int64, title string) CreateResult {
	t.Helper()
	res, err := s.CreateWithTransaction(context.Background(), domain.LocalCourse{
		RemoteID: remoteID,
		Title:    title,
		Slug:     domain.Slugify(title),
		Body:     "<p>body</p>",
		Meta:     map[string]string{"_course_code": "C-1"},
	})
	if err != nil {
		t.Fatalf("Expected no error importing %d, got %v", remoteID, err)
	}
	return res
}

func TestCourseExistsTitleMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateItem(ctx, Item{Title: "Intro"})
	if err != nil {
		t.Fatal(err)
	}

	res := s.CourseExists(ctx, 42, "Intro")
	if !res.Exists || res.MatchType != domain.MatchTitle || res.LocalID != id {
		t.Errorf("Expected title match on %d, got %+v", id, res)
	}

	res = s.CourseExists(ctx, 42, "  intro ")
	if res.MatchType != domain.MatchTitle {
		t.Errorf("Expected normalized title match, got %+v", res)
	}
}

func TestCourseExistsDirectMeta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateItem(ctx, Item{Title: "Hand made"})
	if err := s.SetMeta(ctx, id, MetaRemoteID, "77"); err != nil {
		t.Fatal(err)
	}

	res := s.CourseExists(ctx, 77, "Other title")
	if !res.Exists || res.MatchType != domain.MatchDirectMeta || res.LocalID != id {
		t.Errorf("Expected direct_meta match, got %+v", res)
	}
}

func TestCourseExistsNotFound(t *testing.T) {
	s := newTestStore(t)
	res := s.CourseExists(context.Background(), 1, "Nothing")
	if res.Exists || res.Degraded {
		t.Errorf("Expected clean miss, got %+v", res)
	}
}

func TestCourseExistsDegradedOnError(t *testing.T) {
	s := newTestStore(t)
	_ = s.Close()

	res := s.CourseExists(context.Background(), 1, "x")
	if res.Exists {
		t.Error("Expected not found on storage error")
	}
	if !res.Degraded {
		t.Error("Expected degraded flag on storage error")
	}
}

func TestCreateWithTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := importCourse(t, s, 42, "Deaf 101")
	if res.LocalID == 0 || res.TrackingID == 0 {
		t.Fatalf("Expected ids, got %+v", res)
	}
	if res.Slug != "deaf-101" {
		t.Errorf("Expected slug deaf-101, got %q", res.Slug)
	}

	it, ok, err := s.GetItem(ctx, res.LocalID)
	if err != nil || !ok {
		t.Fatalf("Expected item, got ok=%v err=%v", ok, err)
	}
	if it.Status != ItemDraft {
		t.Errorf("Expected draft status, got %q", it.Status)
	}

	v, ok, _ := s.GetMeta(ctx, res.LocalID, MetaRemoteID)
	if !ok || v != "42" {
		t.Errorf("Expected remote id meta 42, got %q", v)
	}
	v, _, _ = s.GetMeta(ctx, res.LocalID, "_course_code")
	if v != "C-1" {
		t.Errorf("Expected course code meta, got %q", v)
	}

	rec, ok, err := s.GetTracking(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("Expected tracking record, got ok=%v err=%v", ok, err)
	}
	if rec.SyncStatus != domain.TrackingSynced {
		t.Errorf("Expected synced, got %q", rec.SyncStatus)
	}
	if rec.LocalContentID == nil || *rec.LocalContentID != res.LocalID {
		t.Errorf("Expected local content id %d, got %v", res.LocalID, rec.LocalContentID)
	}

	ex := s.CourseExists(ctx, 42, "Deaf 101")
	if ex.MatchType != domain.MatchTracking {
		t.Errorf("Expected tracking match, got %+v", ex)
	}
}

func TestCreateWithTransactionDuplicate(t *testing.T) {
	s := newTestStore(t)
	first := importCourse(t, s, 5, "Course Five")

	res, err := s.CreateWithTransaction(context.Background(), domain.LocalCourse{RemoteID: 5, Title: "Course Five"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
	if res.ExistingLocalID != first.LocalID {
		t.Errorf("Expected existing id %d, got %d", first.LocalID, res.ExistingLocalID)
	}

	ids, _ := s.QueryItems(context.Background(), ItemQuery{Type: ItemTypeCourse})
	if len(ids) != 1 {
		t.Errorf("Expected 1 item, got %d", len(ids))
	}
}

func TestCreateWithTransactionMissingTitle(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateWithTransaction(context.Background(), domain.LocalCourse{RemoteID: 1, Title: "  "})
	if !errors.Is(err, ErrMissingTitle) {
		t.Errorf("Expected ErrMissingTitle, got %v", err)
	}
}

func TestCreateWithTransactionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateWithTransaction(ctx, domain.LocalCourse{
		RemoteID: 9,
		Title:    "Broken",
		Meta:     map[string]string{"": "rejected by schema"},
	})
	if err == nil {
		t.Fatal("Expected error from invalid meta key")
	}

	ids, _ := s.QueryItems(ctx, ItemQuery{})
	if len(ids) != 0 {
		t.Errorf("Expected no content items after rollback, got %v", ids)
	}
	if _, ok, _ := s.GetTracking(ctx, 9); ok {
		t.Error("Expected no tracking record after rollback")
	}
}

func TestUniqueSlug(t *testing.T) {
	s := newTestStore(t)
	a := importCourse(t, s, 1, "Same Name")
	if err := s.SetItemStatus(context.Background(), a.LocalID, ItemTrash); err != nil {
		t.Fatal(err)
	}
	b := importCourse(t, s, 2, "Same Name")
	if b.Slug != "same-name-2" {
		t.Errorf("Expected same-name-2, got %q", b.Slug)
	}
}

func TestCleanupOrphanedRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	deleted := importCourse(t, s, 10, "Deleted course")
	trashed := importCourse(t, s, 11, "Trashed course")
	importCourse(t, s, 12, "Live course")

	if err := s.DeleteItem(ctx, deleted.LocalID); err != nil {
		t.Fatal(err)
	}
	if err := s.SetItemStatus(ctx, trashed.LocalID, ItemTrash); err != nil {
		t.Fatal(err)
	}

	res, err := s.CleanupOrphaned(ctx, 100)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if res.Checked != 3 || res.Updated != 2 {
		t.Errorf("Expected checked 3 updated 2, got %d/%d", res.Checked, res.Updated)
	}

	reasons := map[int64]string{}
	for _, d := range res.Details {
		reasons[d.RemoteID] = d.Reason
	}
	if reasons[10] != domain.ReasonDeleted || reasons[11] != domain.ReasonTrashed {
		t.Errorf("Expected deleted/trashed reasons, got %v", reasons)
	}

	rec, _, _ := s.GetTracking(ctx, 10)
	if rec.SyncStatus != domain.TrackingAvailable {
		t.Errorf("Expected available, got %q", rec.SyncStatus)
	}
	if ex := s.CourseExists(ctx, 10, "Deleted course"); ex.Exists {
		t.Errorf("Expected remote 10 to be re-importable, got %+v", ex)
	}

	again, _ := s.CleanupOrphaned(ctx, 100)
	if again.Updated != 0 || again.Checked != 1 {
		t.Errorf("Expected second pass to check 1 and update 0, got %+v", again)
	}

	recs, _ := s.ListTracking(ctx)
	if len(recs) != 3 {
		t.Errorf("Expected tracking history preserved, got %d records", len(recs))
	}
}

func TestCleanupOrphanedBatchPrefersOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	importCourse(t, s, 1, "Live one")
	importCourse(t, s, 2, "Live two")
	gone := importCourse(t, s, 3, "Gone")
	_ = s.DeleteItem(ctx, gone.LocalID)

	res, err := s.CleanupOrphaned(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Checked != 1 || res.Updated != 1 {
		t.Errorf("Expected the orphan in a batch of one, got %+v", res)
	}
}

func TestReimportAfterCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := importCourse(t, s, 20, "Again")
	_ = s.DeleteItem(ctx, first.LocalID)
	if _, err := s.CleanupOrphaned(ctx, 0); err != nil {
		t.Fatal(err)
	}

	second := importCourse(t, s, 20, "Again")
	if second.TrackingID != first.TrackingID {
		t.Errorf("Expected tracking row %d reused, got %d", first.TrackingID, second.TrackingID)
	}
	rec, _, _ := s.GetTracking(ctx, 20)
	if rec.SyncStatus != domain.TrackingSynced || rec.StatusReason != "" {
		t.Errorf("Expected synced with cleared reason, got %+v", rec)
	}
}

func TestOmittedSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	added, total, err := s.AddOmitted(ctx, []int64{9, 10})
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 || total != 2 {
		t.Errorf("Expected 2/2, got %d/%d", added, total)
	}

	added, total, _ = s.AddOmitted(ctx, []int64{10, 11, 0})
	if added != 1 || total != 3 {
		t.Errorf("Expected 1/3, got %d/%d", added, total)
	}

	set, _ := s.OmittedSet(ctx)
	if _, ok := set[11]; !ok {
		t.Error("Expected 11 in omitted set")
	}

	restored, err := s.ClearOmitted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if restored != 3 {
		t.Errorf("Expected 3 restored, got %d", restored)
	}
	ids, _ := s.OmittedIDs(ctx)
	if len(ids) != 0 {
		t.Errorf("Expected empty set, got %v", ids)
	}
}

func TestBoolOptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetBool(ctx, OptAutoSyncEnabled, true)
	if err != nil || !v {
		t.Errorf("Expected default true, got %v (%v)", v, err)
	}
	if err := s.SetBool(ctx, OptAutoSyncEnabled, false); err != nil {
		t.Fatal(err)
	}
	v, _ = s.GetBool(ctx, OptAutoSyncEnabled, true)
	if v {
		t.Error("Expected false after set")
	}

	_ = s.SetString(ctx, OptAutoSyncEnabled, "garbage")
	v, _ = s.GetBool(ctx, OptAutoSyncEnabled, true)
	if !v {
		t.Error("Expected default for unparsable value")
	}
}

func TestLogStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	logs := s.Logs()

	old := time.Now().Add(-48 * time.Hour)
	err := logs.WriteLines(ctx, []logging.Line{
		{Time: old, Level: "info", Message: "old"},
		{Time: time.Now(), Level: "warn", Message: "first"},
		{Time: time.Now(), Level: "error", Message: "second"},
	})
	if err != nil {
		t.Fatal(err)
	}

	recent, err := logs.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Message != "second" {
		t.Errorf("Expected newest first, got %+v", recent)
	}

	n, err := logs.Prune(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected 1 pruned, got %d", n)
	}
}
