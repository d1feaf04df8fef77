package offsqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

var drivers = []string{DriverCgo, DriverPure}

func openMemory(t *testing.T, driver string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: ":memory:", Driver: driver}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesTables(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s := openMemory(t, driver)
			for _, table := range []string{"_offsync_records", "_offsync_queue", "_offsync_aliases"} {
				var count int
				err := s.DB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
				require.NoError(t, err)
				require.Equal(t, 1, count, "Table %s should exist", table)
			}

			var journalMode string
			require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&journalMode))
			require.Contains(t, []string{"wal", "memory"}, journalMode)
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Path: ":memory:", Driver: "postgres"}, nil)
	require.Error(t, err)
}

func TestRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s := openMemory(t, driver)

			err := s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
				return tx.PutRecord(ctx, &offsync.Record{
					EntityType: "cooperation",
					ID:         "tmp-1",
					Scope:      "org-1",
					Status:     offsync.StatusNew,
					Data:       json.RawMessage(`{"id":"tmp-1","name":"A"}`),
				})
			})
			require.NoError(t, err)

			var got *offsync.Record
			err = s.View(ctx, func(ctx context.Context, tx offsync.Tx) error {
				var err error
				got, err = tx.GetRecord(ctx, "cooperation", "tmp-1")
				return err
			})
			require.NoError(t, err)
			require.Equal(t, "org-1", got.Scope)
			require.Equal(t, offsync.StatusNew, got.Status)
			require.False(t, got.HasRemote)
			require.False(t, got.Deleted)
			require.JSONEq(t, `{"id":"tmp-1","name":"A"}`, string(got.Data))
			require.False(t, got.UpdatedAt.IsZero())

			err = s.View(ctx, func(ctx context.Context, tx offsync.Tx) error {
				_, err := tx.GetRecord(ctx, "cooperation", "missing")
				return err
			})
			require.ErrorIs(t, err, offsync.ErrNotFound)
		})
	}
}

func TestListRecordsFilters(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t, DriverCgo)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
		recs := []*offsync.Record{
			{EntityType: "level", ID: "a", Scope: "d1", Status: offsync.StatusSynced, HasRemote: true, Data: json.RawMessage(`{}`)},
			{EntityType: "level", ID: "b", Scope: "d1", Status: offsync.StatusNew, Data: json.RawMessage(`{}`)},
			{EntityType: "level", ID: "c", Scope: "d2", Status: offsync.StatusDeleted, Deleted: true, HasRemote: true, Data: json.RawMessage(`{}`)},
			{EntityType: "other", ID: "a", Status: offsync.StatusSynced, Data: json.RawMessage(`{}`)},
		}
		for _, r := range recs {
			if err := tx.PutRecord(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	ids := func(filter offsync.RecordFilter) []string {
		var out []string
		require.NoError(t, s.View(ctx, func(ctx context.Context, tx offsync.Tx) error {
			recs, err := tx.ListRecords(ctx, "level", filter)
			for _, r := range recs {
				out = append(out, r.ID)
			}
			return err
		}))
		return out
	}

	require.Equal(t, []string{"a", "b"}, ids(offsync.RecordFilter{}))
	require.Equal(t, []string{"a", "b", "c"}, ids(offsync.RecordFilter{IncludeDeleted: true}))
	require.Equal(t, []string{"a", "b"}, ids(offsync.RecordFilter{Scope: "d1"}))
	require.Equal(t, []string{"a"}, ids(offsync.RecordFilter{Status: offsync.StatusSynced}))
	require.Empty(t, ids(offsync.RecordFilter{Scope: "d2"}))
}

func TestQueueOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s := openMemory(t, driver)

			var first, second, third int64
			require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
				var err error
				if first, err = tx.AppendEntry(ctx, &offsync.QueueEntry{EntityType: "t", EntityID: "x", Action: offsync.ActionCreate, Payload: json.RawMessage(`{"v":1}`)}); err != nil {
					return err
				}
				if second, err = tx.AppendEntry(ctx, &offsync.QueueEntry{EntityType: "t", EntityID: "y", Action: offsync.ActionCreate, Payload: json.RawMessage(`{"v":2}`)}); err != nil {
					return err
				}
				third, err = tx.AppendEntry(ctx, &offsync.QueueEntry{EntityType: "t", EntityID: "x", Action: offsync.ActionDelete})
				return err
			}))
			require.Less(t, first, second)
			require.Less(t, second, third)

			var entries []*offsync.QueueEntry
			require.NoError(t, s.View(ctx, func(ctx context.Context, tx offsync.Tx) error {
				var err error
				entries, err = tx.ListEntries(ctx, offsync.EntryFilter{EntityType: "t", EntityID: "x"})
				return err
			}))
			require.Len(t, entries, 2)
			require.Equal(t, offsync.ActionCreate, entries[0].Action)
			require.Equal(t, offsync.EntryPending, entries[0].State)
			require.Equal(t, offsync.ActionDelete, entries[1].Action)
			require.Nil(t, entries[1].Payload)
			require.True(t, entries[1].NextAttemptAt.IsZero())

			require.NoError(t, s.View(ctx, func(ctx context.Context, tx offsync.Tx) error {
				var err error
				entries, err = tx.ListEntries(ctx, offsync.EntryFilter{Limit: 1})
				return err
			}))
			require.Len(t, entries, 1)
			require.Equal(t, first, entries[0].ID)
		})
	}
}

func TestUpdateEntryAndInFlightReset(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t, DriverCgo)

	var id int64
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
		var err error
		id, err = tx.AppendEntry(ctx, &offsync.QueueEntry{EntityType: "t", EntityID: "tmp-1", Action: offsync.ActionCreate, Payload: json.RawMessage(`{}`)})
		return err
	}))

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
		entries, err := tx.ListEntries(ctx, offsync.EntryFilter{EntityType: "t"})
		if err != nil {
			return err
		}
		e := entries[0]
		e.State = offsync.EntryInFlight
		e.Attempts = 2
		e.LastError = "boom"
		e.EntityID = "srv-1"
		return tx.UpdateEntry(ctx, e)
	}))

	var n int
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
		var err error
		n, err = tx.ResetInFlight(ctx, "t")
		return err
	}))
	require.Equal(t, 1, n)

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx offsync.Tx) error {
		entries, err := tx.ListEntries(ctx, offsync.EntryFilter{EntityID: "srv-1"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, id, entries[0].ID)
		require.Equal(t, offsync.EntryPending, entries[0].State)
		require.Equal(t, 2, entries[0].Attempts)
		require.Equal(t, "boom", entries[0].LastError)
		return nil
	}))
}

func TestRenameRecordReplacesTarget(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t, DriverPure)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
		if err := tx.PutRecord(ctx, &offsync.Record{EntityType: "t", ID: "tmp-1", Status: offsync.StatusPending, Data: json.RawMessage(`{"n":"local"}`)}); err != nil {
			return err
		}
		if err := tx.PutRecord(ctx, &offsync.Record{EntityType: "t", ID: "srv-42", Status: offsync.StatusSynced, Data: json.RawMessage(`{"n":"pulled"}`)}); err != nil {
			return err
		}
		return tx.RenameRecord(ctx, "t", "tmp-1", "srv-42")
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx offsync.Tx) error {
		_, err := tx.GetRecord(ctx, "t", "tmp-1")
		require.ErrorIs(t, err, offsync.ErrNotFound)
		rec, err := tx.GetRecord(ctx, "t", "srv-42")
		require.NoError(t, err)
		require.JSONEq(t, `{"n":"local"}`, string(rec.Data))
		return nil
	}))

	err := s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
		return tx.RenameRecord(ctx, "t", "missing", "srv-43")
	})
	require.ErrorIs(t, err, offsync.ErrNotFound)
}

func TestAliasesFollowRepeatedReplacement(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			s := openMemory(t, driver)

			require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
				if err := tx.PutAlias(ctx, "t", "tmp-1", "srv-42"); err != nil {
					return err
				}
				return tx.PutAlias(ctx, "t", "srv-42", "srv-99")
			}))

			require.NoError(t, s.View(ctx, func(ctx context.Context, tx offsync.Tx) error {
				id, ok, err := tx.ResolveAlias(ctx, "t", "tmp-1")
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, "srv-99", id)

				id, ok, err = tx.ResolveAlias(ctx, "t", "srv-42")
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, "srv-99", id)

				_, ok, err = tx.ResolveAlias(ctx, "other", "tmp-1")
				require.NoError(t, err)
				require.False(t, ok)
				return nil
			}))

			err := s.View(ctx, func(ctx context.Context, tx offsync.Tx) error {
				return tx.PutAlias(ctx, "t", "tmp-2", "srv-43")
			})
			require.ErrorIs(t, err, errReadOnly)
		})
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t, DriverCgo)
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
		if err := tx.PutRecord(ctx, &offsync.Record{EntityType: "t", ID: "a", Status: offsync.StatusNew, Data: json.RawMessage(`{}`)}); err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ctx, &offsync.QueueEntry{EntityType: "t", EntityID: "a", Action: offsync.ActionCreate}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx offsync.Tx) error {
		recs, err := tx.ListRecords(ctx, "t", offsync.RecordFilter{IncludeDeleted: true})
		require.NoError(t, err)
		require.Empty(t, recs)
		entries, err := tx.ListEntries(ctx, offsync.EntryFilter{})
		require.NoError(t, err)
		require.Empty(t, entries)
		return nil
	}))
}

func TestViewRejectsWrites(t *testing.T) {
	s := openMemory(t, DriverCgo)
	err := s.View(context.Background(), func(ctx context.Context, tx offsync.Tx) error {
		return tx.DeleteRecord(ctx, "t", "a")
	})
	require.ErrorIs(t, err, errReadOnly)
}

func TestDeleteEntriesPendingOnly(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t, DriverCgo)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
		id, err := tx.AppendEntry(ctx, &offsync.QueueEntry{EntityType: "t", EntityID: "a", Action: offsync.ActionCreate})
		if err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ctx, &offsync.QueueEntry{EntityType: "t", EntityID: "a", Action: offsync.ActionUpdate}); err != nil {
			return err
		}
		return tx.UpdateEntry(ctx, &offsync.QueueEntry{ID: id, EntityID: "a", State: offsync.EntryInFlight})
	}))

	var n int
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
		var err error
		n, err = tx.DeleteEntries(ctx, "t", "a", true)
		return err
	}))
	require.Equal(t, 1, n)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
		var err error
		n, err = tx.DeleteEntries(ctx, "t", "a", false)
		return err
	}))
	require.Equal(t, 1, n)
}

func TestReopenReturnsInFlightEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offsync.db")

	s, err := Open(ctx, Config{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx offsync.Tx) error {
		id, err := tx.AppendEntry(ctx, &offsync.QueueEntry{EntityType: "t", EntityID: "a", Action: offsync.ActionCreate, Payload: json.RawMessage(`{}`)})
		if err != nil {
			return err
		}
		return tx.UpdateEntry(ctx, &offsync.QueueEntry{ID: id, EntityID: "a", Payload: json.RawMessage(`{}`), State: offsync.EntryInFlight})
	}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Path: path}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx offsync.Tx) error {
		entries, err := tx.ListEntries(ctx, offsync.EntryFilter{State: offsync.EntryInFlight})
		require.NoError(t, err)
		require.Empty(t, entries)
		entries, err = tx.ListEntries(ctx, offsync.EntryFilter{State: offsync.EntryPending})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		return nil
	}))
}
