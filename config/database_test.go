package config_test

import (
	"path/filepath"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/stockbill_backend/config"
)

// Handlers poll GetDB while the connect goroutine is still running;
// concurrent reads against the in-flight connect must be safe.
func TestGetDBConcurrentWithConnect(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "test.db"))

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					config.GetDB()
				}
			}
		}()
	}

	config.ConnectDatabaseWithRetry()
	close(done)
	wg.Wait()

	if config.GetDB() == nil {
		t.Fatalf("GetDB must be non-nil after connect")
	}
}
