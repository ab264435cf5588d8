package board

import "testing"

func TestRepositoryFilterWhitelist(t *testing.T) {
	f := RepositoryFilter{Mode: FilterWhitelist, Repositories: []string{"o/r1"}}

	if !f.Allows("o/r1") {
		t.Error("expected o/r1 to be allowed")
	}
	if f.Allows("o/r2") {
		t.Error("expected o/r2 to be denied")
	}
}

func TestRepositoryFilterBlacklist(t *testing.T) {
	f := RepositoryFilter{Mode: FilterBlacklist, Repositories: []string{"o/r1"}}

	if f.Allows("o/r1") {
		t.Error("expected o/r1 to be denied")
	}
	if !f.Allows("o/r2") {
		t.Error("expected o/r2 to be allowed")
	}
}

func TestRepositoryFilterEmptyBlacklistAllowsEverything(t *testing.T) {
	f := RepositoryFilter{Mode: FilterBlacklist}
	if !f.Allows("anything/goes") {
		t.Error("expected empty blacklist to allow everything")
	}
}

func TestFilterItemsKeepsOnlyAllowed(t *testing.T) {
	items := []Item{
		{ID: "1", Repository: "o/r1"},
		{ID: "2", Repository: "o/r2"},
	}
	filtered := FilterItems(items, RepositoryFilter{Mode: FilterWhitelist, Repositories: []string{"o/r1"}})
	if len(filtered) != 1 || filtered[0].ID != "1" {
		t.Errorf("expected only item 1, got %+v", filtered)
	}
}

func TestMockServiceUpdateItemStatus(t *testing.T) {
	m := NewMockService(Item{ID: "t1", Status: StatusTODO})

	updated, err := m.UpdateItemStatus(nil, "t1", StatusInProgress)
	if err != nil {
		t.Fatalf("UpdateItemStatus() failed: %v", err)
	}
	if updated.Status != StatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", updated.Status)
	}
}

func TestMockServiceUpdateItemStatusMissingItem(t *testing.T) {
	m := NewMockService()
	if _, err := m.UpdateItemStatus(nil, "missing", StatusDone); err == nil {
		t.Fatal("expected error for missing item")
	}
}
