package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"medsync-backend/config"
	"medsync-backend/internal/adherence"
	"medsync-backend/internal/api"
	"medsync-backend/internal/model"
	"medsync-backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestDB opens a private in-memory SQLite database, migrates the schema
// and seeds one user and one medication. A single connection keeps SQLite
// deterministic under the concurrent tests below.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "Failed to connect to the in-memory database")

	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, testDB.AutoMigrate(
		&model.User{},
		&model.Medication{},
		&model.DoseOccurrence{},
		&model.AdherenceEvent{},
	))

	user := model.User{ID: 1, Email: "pat@example.com", PasswordHash: "x", FullName: "Pat Doe", Role: model.RolePatient}
	require.NoError(t, testDB.Create(&user).Error)
	medication := model.Medication{ID: 1, Name: "Metformin", Dosage: "500mg", Frequency: "twice daily"}
	require.NoError(t, testDB.Create(&medication).Error)

	return testDB
}

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Port:            0,
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTLSeconds: 1,
	}
}

// TestMissedDoseLifecycle walks the full scenario: a dose scheduled at 09:00
// with a 15 minute grace period is evaluated at 09:20 while still PENDING, so
// it transitions to MISSED with exactly one alert event, and a late mark-taken
// call gets AlreadyResolved.
func TestMissedDoseLifecycle(t *testing.T) {
	testDB := setupTestDB(t)
	appStore := store.NewGormStore(testDB)
	evaluator := adherence.NewEvaluator(appStore, 2, time.Second)
	router := api.NewRouter(testServerConfig(), appStore)

	scheduledAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	occurrence := model.DoseOccurrence{ID: 100, UserID: 1, MedicationID: 1, ScheduledAt: scheduledAt, Status: model.StatusPending}
	require.NoError(t, testDB.Create(&occurrence).Error)

	// --- Tick at 09:20 with a 15m grace period ---
	tickAt := time.Date(2026, 3, 1, 9, 20, 0, 0, time.UTC)
	due, err := appStore.FindDueUnresolved(context.Background(), tickAt, 15*time.Minute, 100)
	require.NoError(t, err)
	require.Len(t, due, 1, "the 09:00 dose should be due at 09:20")

	result := evaluator.EvaluateBatch(context.Background(), tickAt, due, 5)
	assert.Equal(t, 1, result.Missed)
	assert.Equal(t, 0, result.Errors)

	var stored model.DoseOccurrence
	require.NoError(t, testDB.First(&stored, 100).Error)
	assert.Equal(t, model.StatusMissed, stored.Status)

	var events []model.AdherenceEvent
	require.NoError(t, testDB.Find(&events).Error)
	require.Len(t, events, 1, "exactly one event per missed occurrence")
	assert.Equal(t, model.EventTypeMissedMedication, events[0].EventType)
	assert.Equal(t, model.MissedEventKey(100), events[0].EventKey)

	var payload model.MissedDosePayload
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &payload))
	assert.Equal(t, int64(100), payload.OccurrenceID)
	assert.Equal(t, int64(1), payload.UserID)
	assert.Equal(t, int64(1), payload.MedicationID)
	assert.True(t, payload.ScheduledAt.Equal(scheduledAt))
	assert.True(t, payload.DetectedAt.Equal(tickAt))

	// --- A later mark-taken call cannot un-miss the dose ---
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/doses/100/taken", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, testDB.First(&stored, 100).Error)
	assert.Equal(t, model.StatusMissed, stored.Status, "terminal status must not change")

	// --- Re-running the evaluator does not touch it again ---
	due, err = appStore.FindDueUnresolved(context.Background(), tickAt.Add(time.Hour), 15*time.Minute, 100)
	require.NoError(t, err)
	assert.Empty(t, due, "resolved occurrences never become due again")
}

// TestDueSetCorrectness pins the grace-period boundary: with now=T and a 5m
// grace, only the dose 10 minutes overdue is eligible.
func TestDueSetCorrectness(t *testing.T) {
	testDB := setupTestDB(t)
	appStore := store.NewGormStore(testDB)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doses := []model.DoseOccurrence{
		{ID: 1, UserID: 1, MedicationID: 1, ScheduledAt: now.Add(-10 * time.Minute), Status: model.StatusPending},
		{ID: 2, UserID: 1, MedicationID: 1, ScheduledAt: now.Add(-1 * time.Minute), Status: model.StatusPending},
		{ID: 3, UserID: 1, MedicationID: 1, ScheduledAt: now.Add(5 * time.Minute), Status: model.StatusPending},
	}
	require.NoError(t, testDB.Create(&doses).Error)

	due, err := appStore.FindDueUnresolved(context.Background(), now, 5*time.Minute, 100)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(1), due[0].ID)
}

// TestDueSetOrderingAndLimit verifies oldest-overdue-first ordering and the
// batch bound.
func TestDueSetOrderingAndLimit(t *testing.T) {
	testDB := setupTestDB(t)
	appStore := store.NewGormStore(testDB)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		dose := model.DoseOccurrence{
			ID: int64(i), UserID: 1, MedicationID: 1,
			ScheduledAt: now.Add(-time.Duration(i) * time.Hour),
			Status:      model.StatusPending,
		}
		require.NoError(t, testDB.Create(&dose).Error)
	}

	due, err := appStore.FindDueUnresolved(context.Background(), now, 0, 3)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, int64(5), due[0].ID, "oldest overdue first")
	assert.Equal(t, int64(4), due[1].ID)
	assert.Equal(t, int64(3), due[2].ID)
}

// TestMarkTakenRacesEvaluator runs mark-taken and the evaluator's transition
// attempt concurrently on the same PENDING occurrence, many rounds: exactly
// one side wins each time, and no event exists when mark-taken won.
func TestMarkTakenRacesEvaluator(t *testing.T) {
	testDB := setupTestDB(t)
	appStore := store.NewGormStore(testDB)
	evaluator := adherence.NewEvaluator(appStore, 2, time.Second)

	const rounds = 25
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for round := 0; round < rounds; round++ {
		id := int64(1000 + round)
		occurrence := model.DoseOccurrence{ID: id, UserID: 1, MedicationID: 1, ScheduledAt: now.Add(-time.Hour), Status: model.StatusPending}
		require.NoError(t, testDB.Create(&occurrence).Error)

		var wg sync.WaitGroup
		var takenErr error
		var evalWon bool
		var evalErr error

		wg.Add(2)
		go func() {
			defer wg.Done()
			takenErr = appStore.MarkTaken(context.Background(), id)
		}()
		go func() {
			defer wg.Done()
			evalWon, evalErr = evaluator.EvaluateOne(context.Background(), now, occurrence)
		}()
		wg.Wait()

		require.NoError(t, evalErr)

		var stored model.DoseOccurrence
		require.NoError(t, testDB.First(&stored, id).Error)

		var eventCount int64
		require.NoError(t, testDB.Model(&model.AdherenceEvent{}).
			Where("event_key = ?", model.MissedEventKey(id)).Count(&eventCount).Error)

		if takenErr == nil {
			// Mark-taken won: evaluator must have lost and produced nothing.
			assert.False(t, evalWon)
			assert.Equal(t, model.StatusTaken, stored.Status)
			assert.Equal(t, int64(0), eventCount, "no event when the user marked the dose taken")
		} else {
			require.ErrorIs(t, takenErr, store.ErrAlreadyResolved)
			assert.True(t, evalWon)
			assert.Equal(t, model.StatusMissed, stored.Status)
			assert.Equal(t, int64(1), eventCount, "exactly one event when the evaluator won")
		}
	}
}

// TestConcurrentEvaluatorsAtMostOneEvent hammers one occurrence with several
// evaluators at once.
func TestConcurrentEvaluatorsAtMostOneEvent(t *testing.T) {
	testDB := setupTestDB(t)
	appStore := store.NewGormStore(testDB)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	occurrence := model.DoseOccurrence{ID: 1, UserID: 1, MedicationID: 1, ScheduledAt: now.Add(-time.Hour), Status: model.StatusPending}
	require.NoError(t, testDB.Create(&occurrence).Error)

	const evaluators = 6
	wins := make(chan bool, evaluators)
	var wg sync.WaitGroup
	for i := 0; i < evaluators; i++ {
		evaluator := adherence.NewEvaluator(appStore, 2, time.Second)
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := evaluator.EvaluateOne(context.Background(), now, occurrence)
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one evaluator wins the transition")

	var eventCount int64
	require.NoError(t, testDB.Model(&model.AdherenceEvent{}).Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)

	var stored model.DoseOccurrence
	require.NoError(t, testDB.First(&stored, 1).Error)
	assert.Equal(t, model.StatusMissed, stored.Status)
}

// TestMarkTakenEndpoint covers the HTTP contract of the mark-taken interface.
func TestMarkTakenEndpoint(t *testing.T) {
	testDB := setupTestDB(t)
	appStore := store.NewGormStore(testDB)
	router := api.NewRouter(testServerConfig(), appStore)

	now := time.Now().UTC()
	occurrence := model.DoseOccurrence{ID: 5, UserID: 1, MedicationID: 1, ScheduledAt: now, Status: model.StatusPending}
	require.NoError(t, testDB.Create(&occurrence).Error)

	t.Run("pending dose is marked taken", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/doses/5/taken", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		var stored model.DoseOccurrence
		require.NoError(t, testDB.First(&stored, 5).Error)
		assert.Equal(t, model.StatusTaken, stored.Status)
	})

	t.Run("second call returns conflict", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/doses/5/taken", nil))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown dose returns not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/doses/999/taken", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id returns bad request", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/doses/abc/taken", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
