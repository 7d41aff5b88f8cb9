//go:build !windows

package paths

func legacyHardcodedPath() string {
	return "/mnt/c/polish/queue/reports/nightly_session.lock"
}
