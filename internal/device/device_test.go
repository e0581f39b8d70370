package device

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		product  string
		serial   string
		wantMode Mode
		wantID   string
		wantName string
	}{
		{"application", "app", "a1b2c3d4:rom-a", ModeApplication, "a1b2c3d4", "rom-a"},
		{"application empty name", "app", "a1b2c3d4:", ModeApplication, "a1b2c3d4", ""},
		{"legacy firmware", "app", "a1b2c3d4", ModeResettable, "a1b2c3d4", ""},
		{"bootloader", "boot", "E0C912345678", ModeBootloader, "E0C912345678", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			product := productApplication
			if tt.product == "boot" {
				product = productBootloader
			}
			mode, id, name := classify(product, tt.serial)
			if mode != tt.wantMode || id != tt.wantID || name != tt.wantName {
				t.Errorf("classify = (%v, %q, %q), want (%v, %q, %q)",
					mode, id, name, tt.wantMode, tt.wantID, tt.wantName)
			}
		})
	}
}

func TestSameLocation(t *testing.T) {
	id := Identity{BusID: "3", PortChain: []int{1, 4, 2}}
	if !id.SameLocation("3", []int{1, 4, 2}) {
		t.Error("identical topology did not match")
	}
	if id.SameLocation("2", []int{1, 4, 2}) {
		t.Error("different bus matched")
	}
	if id.SameLocation("3", []int{1, 4}) {
		t.Error("different port chain matched")
	}
}

func TestWaitForModeIgnoresIdentityString(t *testing.T) {
	// The device reboots out of application mode and returns as a
	// bootloader with a completely different serial string. Only the
	// topology carries across.
	snapshots := [][]Identity{
		{{StableID: "a1b2:rom-a", BusID: "1", PortChain: []int{2}, Mode: ModeApplication}},
		{},
		{{StableID: "E0C9000011112222", BusID: "1", PortChain: []int{2}, Mode: ModeBootloader}},
	}
	calls := 0
	snapshot := func() ([]Identity, error) {
		list := snapshots[len(snapshots)-1]
		if calls < len(snapshots) {
			list = snapshots[calls]
		}
		calls++
		return list, nil
	}

	id, err := WaitForMode(snapshot, ModeBootloader, "1", []int{2}, time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForMode: %v", err)
	}
	if id.StableID != "E0C9000011112222" {
		t.Errorf("reacquired identity = %q", id.StableID)
	}
	if calls < 3 {
		t.Errorf("snapshot polled %d times, want at least 3", calls)
	}
}

func TestWaitForModeTimesOut(t *testing.T) {
	snapshot := func() ([]Identity, error) { return nil, nil }

	_, err := WaitForMode(snapshot, ModeBootloader, "1", []int{2}, 10*time.Millisecond, time.Millisecond)
	var re *ReacquireTimeoutError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *ReacquireTimeoutError", err)
	}
	if re.Mode != ModeBootloader {
		t.Errorf("error mode = %v, want bootloader", re.Mode)
	}
}

func TestWaitForModeToleratesEnumerationErrors(t *testing.T) {
	calls := 0
	snapshot := func() ([]Identity, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("bus is resetting")
		}
		return []Identity{{BusID: "1", PortChain: []int{2}, Mode: ModeBootloader}}, nil
	}

	if _, err := WaitForMode(snapshot, ModeBootloader, "1", []int{2}, time.Second, time.Millisecond); err != nil {
		t.Fatalf("WaitForMode: %v", err)
	}
}

func TestResolveName(t *testing.T) {
	appA := Identity{Name: "rom-a", BusID: "1", PortChain: []int{1}, Mode: ModeApplication}
	appA2 := Identity{Name: "rom-a", BusID: "1", PortChain: []int{2}, Mode: ModeApplication}
	appB := Identity{Name: "rom-b", BusID: "2", PortChain: []int{3}, Mode: ModeApplication}
	legacy := Identity{BusID: "1", PortChain: []int{4}, Mode: ModeResettable}

	t.Run("unique name", func(t *testing.T) {
		id, stale, err := ResolveName([]Identity{appA, appB}, Identity{}, false, "rom-a")
		if err != nil || stale {
			t.Fatalf("ResolveName: %v (stale=%v)", err, stale)
		}
		if !id.SameLocation("1", []int{1}) {
			t.Errorf("resolved %v", id)
		}
	})

	t.Run("duplicate names need the cache", func(t *testing.T) {
		_, _, err := ResolveName([]Identity{appA, appA2}, Identity{}, false, "rom-a")
		if err == nil {
			t.Fatal("ambiguous name resolved without a cache entry")
		}
		id, _, err := ResolveName([]Identity{appA, appA2}, appA2, true, "rom-a")
		if err != nil {
			t.Fatalf("ResolveName: %v", err)
		}
		if !id.SameLocation("1", []int{2}) {
			t.Errorf("resolved %v, want the cached topology", id)
		}
	})

	t.Run("cached legacy device", func(t *testing.T) {
		cached := Identity{Name: "rom-c", BusID: "1", PortChain: []int{4}}
		id, stale, err := ResolveName([]Identity{appB, legacy}, cached, true, "rom-c")
		if err != nil || stale {
			t.Fatalf("ResolveName: %v (stale=%v)", err, stale)
		}
		if id.Mode != ModeResettable {
			t.Errorf("resolved mode = %v, want resettable", id.Mode)
		}
	})

	t.Run("stale cache entry reported", func(t *testing.T) {
		cached := Identity{Name: "rom-c", BusID: "9", PortChain: []int{9}}
		_, stale, err := ResolveName([]Identity{appB}, cached, true, "rom-c")
		if err == nil {
			t.Fatal("resolved a name no device announces")
		}
		if !stale {
			t.Error("contradicted cache entry not reported stale")
		}
	})

	t.Run("unknown name lists candidates", func(t *testing.T) {
		_, _, err := ResolveName([]Identity{appA, appB}, Identity{}, false, "nope")
		if err == nil {
			t.Fatal("resolved an unknown name")
		}
	})
}

func TestFileCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "devices.json")

	c, err := OpenFileCache(path)
	if err != nil {
		t.Fatalf("OpenFileCache: %v", err)
	}
	if _, ok := c.Lookup("rom-a"); ok {
		t.Error("empty cache returned an entry")
	}

	id := Identity{StableID: "a1b2", Name: "rom-a", BusID: "1", PortChain: []int{2, 3}, Mode: ModeApplication}
	if err := c.Store("rom-a", id); err != nil {
		t.Fatalf("Store: %v", err)
	}

	reopened, err := OpenFileCache(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.Lookup("rom-a")
	if !ok {
		t.Fatal("stored entry missing after reopen")
	}
	if !got.SameLocation("1", []int{2, 3}) || got.Name != "rom-a" {
		t.Errorf("Lookup = %+v", got)
	}

	if err := reopened.Remove("rom-a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	again, err := OpenFileCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := again.Lookup("rom-a"); ok {
		t.Error("removed entry survived")
	}
}
