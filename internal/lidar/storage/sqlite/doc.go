// Package sqlite contains SQLite repository implementations for tracker
// output.
//
// All database read/write operations for selected tracks and debug frames
// belong here rather than in the tracking packages. This keeps graph logic
// free of SQL noise and makes it easier to swap storage backends for
// testing. The schema itself is owned by internal/db migrations.
package sqlite
