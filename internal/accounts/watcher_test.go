package accounts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// waitForStore polls until check passes or the deadline elapses. The watcher
// debounces events, so reloads land asynchronously.
func waitForStore(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("store did not pick up the external edit in time")
}

func writeAccountsFile(t *testing.T, dir string, list []*Account) {
	t.Helper()
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		t.Fatalf("marshal accounts: %v", err)
	}
	if err = os.WriteFile(filepath.Join(dir, accountsFileName), data, 0o600); err != nil {
		t.Fatalf("write accounts file: %v", err)
	}
}

func TestWatchReloadsExternalEdits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err = store.Upsert(testAccount("abc-123", "Steve")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err = store.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Another process (the launcher UI) appends a second account. A burst
	// of writes within the debounce window still yields the final state.
	external := []*Account{
		testAccount("abc-123", "Steve"),
		testAccount("def-456", "Alex"),
	}
	writeAccountsFile(t, dir, external[:1])
	writeAccountsFile(t, dir, external)

	waitForStore(t, func() bool { return len(store.List()) == 2 })

	list := store.List()
	if list[1].ID != "def-456" || list[1].Name != "Alex" {
		t.Errorf("reloaded account = %+v", list[1])
	}
}

func TestWatchExternalSessionSlotRemoval(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err = store.Upsert(testAccount("abc-123", "Steve")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if store.Active() == nil {
		t.Fatal("expected an active account after Upsert")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err = store.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// The launcher UI signs the user out by deleting the session slot.
	if err = os.Remove(filepath.Join(dir, currentFileName)); err != nil {
		t.Fatalf("remove session slot: %v", err)
	}

	waitForStore(t, func() bool { return store.Active() == nil })

	if got := store.List(); len(got) != 1 {
		t.Errorf("account list changed on a session-slot edit: %d entries", len(got))
	}
}
