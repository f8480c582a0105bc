package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return testModeEnabled(os.Getenv(testModeEnv))
})

func testModeEnabled(raw string) bool {
	on, err := strconv.ParseBool(raw)
	return err == nil && on
}

// InTestMode reports whether binaries should skip runtime side effects.
func InTestMode() bool {
	return testMode()
}
