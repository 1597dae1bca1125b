// Package providers declares what the sync pipeline needs from a remote
// course catalog. internal/providers/canvas is the implementation.
package providers

import (
	"context"

	"lms-course-sync/internal/domain"
)

// CourseLister fetches the full course listing.
type CourseLister interface {
	ListCourses(ctx context.Context, pageSize int) ([]domain.RemoteCourse, error)
}

// CourseDetailer fetches single-course detail for import.
type CourseDetailer interface {
	GetCourse(ctx context.Context, remoteID int64) (domain.RemoteCourse, error)
	ListModules(ctx context.Context, remoteID int64) ([]domain.CourseModule, error)
}

// CourseSource is the full remote catalog client.
type CourseSource interface {
	CourseLister
	CourseDetailer
	TestConnection(ctx context.Context) (string, error)
}
