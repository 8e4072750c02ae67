//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"expandd/internal/audit"
	"expandd/internal/combo"
	"expandd/internal/store"
)

// =============================================================================
// Combo Document Round Trip
// =============================================================================

func TestStoreSurvivesReopen(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	work := combo.NewGroup("Work")
	AssertNoError(t, env.Store.AddGroup(work), "add group")

	plain := env.AddCombo("By the way", "btw", "by the way")

	custom := combo.New("Typo fix", "teh", "the")
	custom.MatchingMode = combo.MatchLoose
	custom.CaseSensitivity = combo.CaseSensitive
	custom.Enabled = false
	custom.GroupID = work.ID
	env.MustAdd(custom)

	reopened, err := store.Open(env.ComboPath, store.Options{Logger: discardLogger()})
	AssertNoError(t, err, "reopen store")

	groups, combos, active := reopened.Stats()
	AssertEqual(t, 2, groups, "group count")
	AssertEqual(t, 2, combos, "combo count")
	AssertEqual(t, 1, active, "active count")

	got := reopened.Find(custom.ID)
	AssertTrue(t, got != nil, "customized combo present")
	AssertEqual(t, combo.MatchLoose, got.MatchingMode, "matching mode survives")
	AssertEqual(t, combo.CaseSensitive, got.CaseSensitivity, "case sensitivity survives")
	AssertFalse(t, got.Enabled, "enabled flag survives")
	AssertEqual(t, work.ID, got.GroupID, "group assignment survives")

	got = reopened.Find(plain.ID)
	AssertTrue(t, got != nil, "plain combo present")
	AssertEqual(t, "by the way", got.Snippet, "snippet survives")
}

func TestMarkUsedReachesDiskOnSave(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	c := env.AddCombo("By the way", "btw", "by the way")

	// A fire stamps only the in-memory list; the periodic save persists it.
	usedAt := time.Now().Truncate(time.Second)
	env.Store.MarkUsed(c.ID, usedAt)

	reopened, err := store.Open(env.ComboPath, store.Options{Logger: discardLogger()})
	AssertNoError(t, err, "reopen before save")
	AssertTrue(t, reopened.Find(c.ID).LastUsedAt.IsZero(), "stamp not on disk yet")

	AssertNoError(t, env.Store.Save(), "save store")

	reopened, err = store.Open(env.ComboPath, store.Options{Logger: discardLogger()})
	AssertNoError(t, err, "reopen after save")
	AssertTrue(t, reopened.Find(c.ID).LastUsedAt.Equal(usedAt), "stamp persisted")
}

func TestBackupOnSaveKeepsPreviousDocument(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	path := filepath.Join(env.TempDir, "backed.json")
	st, err := store.Open(path, store.Options{BackupOnSave: true, Logger: discardLogger()})
	AssertNoError(t, err, "open store")

	AssertNoError(t, st.Add(combo.New("First", "one", "ONE")), "add first combo")
	AssertNoError(t, st.Add(combo.New("Second", "two", "TWO")), "add second combo")

	backup, err := store.Open(path+".bak", store.Options{Logger: discardLogger()})
	AssertNoError(t, err, "open backup")
	_, combos, _ := backup.Stats()
	AssertEqual(t, 1, combos, "backup holds the previous document")

	_, combos, _ = st.Stats()
	AssertEqual(t, 2, combos, "live document holds both")
}

// =============================================================================
// Export and Import
// =============================================================================

func TestExportImportFullDocument(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	work := combo.NewGroup("Work")
	AssertNoError(t, env.Store.AddGroup(work), "add group")
	env.AddCombo("By the way", "btw", "by the way")
	grouped := combo.New("Signature", "sig", "Kind regards")
	grouped.GroupID = work.ID
	env.MustAdd(grouped)

	exportPath := filepath.Join(env.TempDir, "export.json")
	AssertNoError(t, env.Store.ExportCombos(exportPath, nil), "export all")

	otherPath := filepath.Join(env.TempDir, "other.json")
	other, err := store.Open(otherPath, store.Options{Logger: discardLogger()})
	AssertNoError(t, err, "open destination store")

	n, err := other.ImportCombos(exportPath, false)
	AssertNoError(t, err, "import")
	AssertEqual(t, 2, n, "imported count")

	groups, combos, _ := other.Stats()
	AssertEqual(t, 2, groups, "work group recreated")
	AssertEqual(t, 2, combos, "combos imported")

	got := other.Find(grouped.ID)
	AssertTrue(t, got != nil, "grouped combo present")
	AssertEqual(t, "Work", other.List().FindGroup(got.GroupID).Name, "group assignment mapped")
}

func TestExportSelectedCombos(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	keep := env.AddCombo("By the way", "btw", "by the way")
	env.AddCombo("Thanks", "thx", "thank you")

	exportPath := filepath.Join(env.TempDir, "selected.json")
	AssertNoError(t, env.Store.ExportCombos(exportPath, []string{keep.ID}), "export one")

	otherPath := filepath.Join(env.TempDir, "other.json")
	other, err := store.Open(otherPath, store.Options{Logger: discardLogger()})
	AssertNoError(t, err, "open destination store")

	n, err := other.ImportCombos(exportPath, false)
	AssertNoError(t, err, "import")
	AssertEqual(t, 1, n, "imported count")
	AssertTrue(t, other.Find(keep.ID) != nil, "selected combo present")
}

func TestImportSkipsOrReplacesDuplicates(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	c := env.AddCombo("By the way", "btw", "by the way")
	exportPath := filepath.Join(env.TempDir, "export.json")
	AssertNoError(t, env.Store.ExportCombos(exportPath, nil), "export")

	// The same id already exists locally with a newer snippet.
	edited := c.Clone()
	edited.Snippet = "by the way (edited)"
	AssertNoError(t, env.Store.Update(edited), "edit combo")

	n, err := env.Store.ImportCombos(exportPath, false)
	AssertNoError(t, err, "import without merge")
	AssertEqual(t, 0, n, "duplicate skipped")
	AssertEqual(t, "by the way (edited)", env.Store.Find(c.ID).Snippet, "local edit kept")

	n, err = env.Store.ImportCombos(exportPath, true)
	AssertNoError(t, err, "import with merge")
	AssertEqual(t, 1, n, "duplicate replaced")
	AssertEqual(t, "by the way", env.Store.Find(c.ID).Snippet, "imported snippet wins")
}

// =============================================================================
// Expansion History
// =============================================================================

func TestAuditHistoryAcrossReopen(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	c := env.AddCombo("By the way", "btw", "by the way")
	env.StartEngine()

	env.Source.Type("btw ")
	env.WaitForFire("btw", fireWait)
	env.StopEngine()
	AssertNoError(t, env.Audit.Close(), "close audit store")

	reopened, err := audit.Open(env.Config.Audit.Path)
	AssertNoError(t, err, "reopen audit store")
	defer reopened.Close()

	fires, err := reopened.RecentFires(10)
	AssertNoError(t, err, "query recent fires")
	AssertEqual(t, 1, len(fires), "history survived reopen")
	AssertEqual(t, c.ID, fires[0].ComboID, "combo id")
	AssertEqual(t, audit.OutcomeDelivered, fires[0].Outcome, "outcome")
	AssertTrue(t, fires[0].Duration >= 0, "duration recorded")

	env.Audit = nil
}

func TestAuditPruneDropsOldFires(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	old := &audit.Fire{
		ComboID: "combo-old",
		Keyword: "old",
		FiredAt: time.Now().Add(-48 * time.Hour),
		Outcome: audit.OutcomeDelivered,
	}
	_, err := env.Audit.RecordFire(old)
	AssertNoError(t, err, "record old fire")

	fresh := &audit.Fire{
		ComboID: "combo-new",
		Keyword: "new",
		FiredAt: time.Now(),
		Outcome: audit.OutcomeDelivered,
	}
	_, err = env.Audit.RecordFire(fresh)
	AssertNoError(t, err, "record fresh fire")

	removed, err := env.Audit.PruneOlderThan(time.Now().Add(-24 * time.Hour))
	AssertNoError(t, err, "prune")
	AssertEqual(t, int64(1), removed, "pruned count")

	fires, err := env.Audit.RecentFires(10)
	AssertNoError(t, err, "query recent fires")
	AssertEqual(t, 1, len(fires), "remaining count")
	AssertEqual(t, "new", fires[0].Keyword, "fresh fire kept")
}

func TestAuditRangeQuery(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	base := time.Now().Add(-time.Hour)
	for i, kw := range []string{"first", "second", "third"} {
		_, err := env.Audit.RecordFire(&audit.Fire{
			ComboID: "combo",
			Keyword: kw,
			FiredAt: base.Add(time.Duration(i) * time.Minute),
			Outcome: audit.OutcomeDelivered,
		})
		AssertNoError(t, err, "record fire")
	}

	fires, err := env.Audit.FiresBetween(base.Add(30*time.Second), base.Add(90*time.Second))
	AssertNoError(t, err, "range query")
	AssertEqual(t, 1, len(fires), "rows in range")
	AssertEqual(t, "second", fires[0].Keyword, "row identity")
}

// =============================================================================
// Startup With a Damaged Document
// =============================================================================

func TestOpenRejectsCorruptDocument(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	path := filepath.Join(env.TempDir, "broken.json")
	AssertNoError(t, os.WriteFile(path, []byte("{not json"), 0o600), "write corrupt file")

	_, err := store.Open(path, store.Options{Logger: discardLogger()})
	AssertError(t, err, "corrupt document refused")
}
