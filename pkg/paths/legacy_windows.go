//go:build windows

package paths

func legacyHardcodedPath() string {
	return `C:\polish\queue\reports\nightly_session.lock`
}
