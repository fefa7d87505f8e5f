//go:build !unix

package quota

// lockFile is a no-op where flock is unavailable; FileStore's mutex still
// serializes callers within the process.
func lockFile(string, bool) (func(), error) {
	return func() {}, nil
}
