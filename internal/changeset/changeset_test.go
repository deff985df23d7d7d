package changeset

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	id   string
	name string
}

func (r row) Key() string     { return r.id }
func (r row) Transient() bool { return len(r.id) > 4 && r.id[:4] == "tmp-" }

func TestRecordAdd(t *testing.T) {
	var s Set[row]

	s.RecordAdd(row{id: "tmp-1", name: "first"})
	s.RecordAdd(row{id: "tmp-2", name: "second"})

	assert.Len(t, s.NewItems(), 2)
	assert.Equal(t, "first", s.NewItems()[0].name)
	assert.Empty(t, s.Updates())
	assert.Empty(t, s.Deletions())
	assert.False(t, s.Empty())
}

func TestRecordEditAddOnce(t *testing.T) {
	var s Set[row]

	s.RecordEdit(row{id: "42", name: "v1"})
	s.RecordEdit(row{id: "42", name: "v2"})
	s.RecordEdit(row{id: "43", name: "other"})

	assert.Len(t, s.Updates(), 2)
	assert.Equal(t, "v2", s.Updates()[0].name, "latest snapshot kept, no duplicate")
	assert.Equal(t, "43", s.Updates()[1].id)
}

func TestRecordEditTransientStaysInNewItems(t *testing.T) {
	var s Set[row]

	s.RecordAdd(row{id: "tmp-1", name: "draft"})
	s.RecordEdit(row{id: "tmp-1", name: "renamed"})

	assert.Empty(t, s.Updates())
	assert.Len(t, s.NewItems(), 1)
	assert.Equal(t, "renamed", s.NewItems()[0].name)
}

func TestRecordDeleteTransient(t *testing.T) {
	var s Set[row]

	s.RecordAdd(row{id: "tmp-1"})
	s.RecordDelete(row{id: "tmp-1"})

	assert.Empty(t, s.NewItems())
	assert.Empty(t, s.Deletions(), "transient delete never reaches upstream")
	assert.True(t, s.Empty())
}

func TestRecordDeletePersisted(t *testing.T) {
	var s Set[row]

	s.RecordEdit(row{id: "42", name: "edited"})
	s.RecordDelete(row{id: "42"})

	assert.Empty(t, s.Updates(), "deleted rows drop out of updates")
	assert.Equal(t, []string{"42"}, s.Deletions())
}

func TestDeletionOrderPreserved(t *testing.T) {
	var s Set[row]

	s.RecordDelete(row{id: "b"})
	s.RecordDelete(row{id: "a"})
	s.RecordDelete(row{id: "c"})

	assert.Equal(t, []string{"b", "a", "c"}, s.Deletions())
}

func TestClear(t *testing.T) {
	var s Set[row]

	s.RecordAdd(row{id: "tmp-1"})
	s.RecordEdit(row{id: "42"})
	s.RecordDelete(row{id: "43"})
	assert.False(t, s.Empty())

	s.Clear()
	assert.True(t, s.Empty())
	assert.Empty(t, s.NewItems())
	assert.Empty(t, s.Updates())
	assert.Empty(t, s.Deletions())
}

type wireRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (r wireRow) Key() string     { return r.ID }
func (r wireRow) Transient() bool { return len(r.ID) > 4 && r.ID[:4] == "tmp-" }

func TestSnapshotRoundTripsThroughJSON(t *testing.T) {
	var s Set[wireRow]
	s.RecordAdd(wireRow{ID: "tmp-1", Name: "draft"})
	s.RecordEdit(wireRow{ID: "42", Name: "edited"})
	s.RecordDelete(wireRow{ID: "43"})

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var snap Snapshot[wireRow]
	require.NoError(t, json.Unmarshal(data, &snap))
	restored := Restore(snap)

	assert.Equal(t, s.NewItems(), restored.NewItems())
	assert.Equal(t, s.Updates(), restored.Updates())
	assert.Equal(t, s.Deletions(), restored.Deletions())

	// a restored set keeps accumulating
	restored.RecordDelete(wireRow{ID: "42"})
	assert.Empty(t, restored.Updates())
	assert.Equal(t, []string{"43", "42"}, restored.Deletions())
}
