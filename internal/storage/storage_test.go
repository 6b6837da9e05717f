package storage

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/lorawan-server/lorawan-adr/internal/models"
	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

func TestTranslateError(t *testing.T) {
	assert.Nil(t, translateError(nil))
	assert.True(t, errors.Is(translateError(sql.ErrNoRows), ErrNotFound))
	assert.True(t, errors.Is(translateError(&pq.Error{Code: "23505"}), ErrDuplicateKey))
	assert.True(t, errors.Is(translateError(&pq.Error{Code: "22P02", Message: "bad"}), ErrInvalidData))

	other := errors.New("boom")
	assert.Equal(t, other, translateError(other))
}

func TestBuildEventLogFilter(t *testing.T) {
	where, args := buildEventLogFilter(EventLogFilters{})
	assert.Equal(t, " WHERE 1=1", where)
	assert.Empty(t, args)

	devEUI := lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}
	typ := models.EventTypeADR
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	where, args = buildEventLogFilter(EventLogFilters{DevEUI: &devEUI, Type: &typ, StartTime: &start})
	assert.Equal(t, " WHERE 1=1 AND dev_eui = $1 AND type = $2 AND created_at >= $3", where)
	assert.Equal(t, []interface{}{devEUI[:], typ, start}, args)
}

func TestNullableUint8(t *testing.T) {
	assert.Nil(t, nullableUint8(nil))

	v := uint8(4)
	assert.Equal(t, int64(4), nullableUint8(&v))
}
