package audit_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mizutama/loreforge/server/audit"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndFlushOnStop(t *testing.T) {
	st := testutil.SetupTestStore(t, nil)
	svc := audit.New(st, nil)

	svc.Record(audit.Entry{
		TraceID:    "trace-1",
		Collection: "characters",
		DocID:      "char-1",
		Action:     "create",
		Detail:     map[string]string{"name": "Mira"},
		IP:         "127.0.0.1",
		Duration:   3 * time.Millisecond,
	})
	svc.Record(audit.Entry{
		Collection: "characters",
		DocID:      "char-2",
		Action:     "delete",
		Err:        errors.New("boom"),
	})
	svc.Stop()

	db, err := st.DB()
	require.NoError(t, err)
	var rows []model.AuditLog
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "create", rows[0].Action)
	assert.Equal(t, "char-1", rows[0].DocID)
	assert.JSONEq(t, `{"name":"Mira"}`, string(rows[0].Detail))
	assert.Equal(t, "boom", rows[1].Error)
}

func TestPeriodicFlush(t *testing.T) {
	st := testutil.SetupTestStore(t, nil)
	svc := audit.New(st, nil)
	defer svc.Stop()

	svc.Record(audit.Entry{Collection: "rules", Action: "import"})

	db, err := st.DB()
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		var n int64
		if err := db.Model(&model.AuditLog{}).Count(&n).Error; err != nil {
			return false
		}
		return n == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStopIdempotent(t *testing.T) {
	st := testutil.SetupTestStore(t, nil)
	svc := audit.New(st, nil)
	svc.Stop()
	svc.Stop()
}
