package postgres_test

import (
	"testing"

	"github.com/phrazzld/task-inbox/internal/platform/postgres"
	"github.com/phrazzld/task-inbox/internal/store/storetest"
	"github.com/phrazzld/task-inbox/internal/testdb"
)

func TestPostgresTaskStore_Conformance(t *testing.T) {
	db := testdb.GetTestDBWithT(t)

	storetest.Run(t, storetest.Harness{
		Store:   postgres.NewPostgresTaskStore(db, nil),
		InboxID: func(t *testing.T) string { return testdb.UniqueInboxID(t, db) },
	})
}
