package app

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// TestModeEnv names the variable that makes ledgerd and worker return before
// dialling Postgres or Redis. internal/testing/guard sets it for test binaries.
const TestModeEnv = "LEDGER_TEST_MODE"

// testMode caches the parsed flag; nil means the environment is not read yet.
var testMode atomic.Pointer[bool]

func readTestMode() bool {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(TestModeEnv)))
	return err == nil && on
}

// InTestMode reports whether the ledger binaries should skip opening the
// database pool, the FX cache and the job queue.
func InTestMode() bool {
	if cached := testMode.Load(); cached != nil {
		return *cached
	}
	on := readTestMode()
	testMode.CompareAndSwap(nil, &on)
	return *testMode.Load()
}

// RefreshTestMode re-reads LEDGER_TEST_MODE after a test changes it.
func RefreshTestMode() {
	on := readTestMode()
	testMode.Store(&on)
}
