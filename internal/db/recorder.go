// Package db persists an optional, best-effort observability trail of cycle
// snapshots. spec.md §6 keeps all durable rebalance state ephemeral (the
// chain is the source of truth; the descriptor isn't replayed across
// restarts) — this package never feeds a decision back into the core, it
// only records what happened for an operator to query later. Grounded on
// the teacher's internal/db MySQLRecorder (gorm.io/gorm +
// gorm.io/driver/mysql, AutoMigrate-on-connect, one row per report), adapted
// from the teacher's CurrentAssetSnapshot (four hardcoded token amounts,
// strategy-phase enum) to a generic per-cycle snapshot shape.
package db

import (
	"fmt"
	"math/big"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CycleSnapshot is one per-cycle observability row: the wallet's two
// pool-token balances, how many open positions the account holds, the stage
// the (at most one) live descriptor last reached, and the cumulative gas
// spent so far. cmd/rebalancer records one per cycle_start report and fills
// only Timestamp and CumulativeGas; the other fields stay at their zero values.
type CycleSnapshot struct {
	Timestamp      time.Time
	PositionCount  int
	DescriptorStage string
	Balance0       *big.Int
	Balance1       *big.Int
	CumulativeGas  *big.Int
}

// CycleSnapshotRecord is the GORM model backing CycleSnapshot.
type CycleSnapshotRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp       time.Time `gorm:"index;not null"`
	PositionCount   int       `gorm:"not null"`
	DescriptorStage string    `gorm:"type:varchar(32);not null"`
	Balance0        string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	Balance1        string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	CumulativeGas   string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

// TableName pins the table name for GORM.
func (CycleSnapshotRecord) TableName() string {
	return "cycle_snapshots"
}

// Recorder is the narrow persistence surface the Orchestrator writes
// through; nil is a valid, no-op Recorder reference for callers that run
// without persistence configured.
type Recorder interface {
	RecordCycle(snapshot CycleSnapshot) error
}

// MySQLRecorder implements Recorder over GORM and MySQL.
type MySQLRecorder struct {
	db *gorm.DB
}

// NewMySQLRecorder opens a MySQL connection (dsn:
// "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local")
// and migrates the cycle_snapshots table.
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to mysql: %w", err)
	}
	return NewMySQLRecorderWithDB(db)
}

// NewMySQLRecorderWithDB wraps an already-open GORM DB and migrates the
// cycle_snapshots table on it.
func NewMySQLRecorderWithDB(db *gorm.DB) (*MySQLRecorder, error) {
	if err := db.AutoMigrate(&CycleSnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("db: migrate schema: %w", err)
	}
	return &MySQLRecorder{db: db}, nil
}

// RecordCycle writes one cycle's snapshot as a new row.
func (r *MySQLRecorder) RecordCycle(snapshot CycleSnapshot) error {
	record := CycleSnapshotRecord{
		Timestamp:       snapshot.Timestamp,
		PositionCount:   snapshot.PositionCount,
		DescriptorStage: snapshot.DescriptorStage,
		Balance0:        bigIntToString(snapshot.Balance0),
		Balance1:        bigIntToString(snapshot.Balance1),
		CumulativeGas:   bigIntToString(snapshot.CumulativeGas),
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("db: record cycle snapshot: %w", result.Error)
	}
	return nil
}

// GetDB exposes the underlying GORM DB for ad hoc operator queries.
func (r *MySQLRecorder) GetDB() *gorm.DB {
	return r.db
}

// Close releases the underlying connection pool.
func (r *MySQLRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("db: underlying *sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func bigIntToString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

// LatestCycle retrieves the most recently recorded snapshot.
func (r *MySQLRecorder) LatestCycle() (*CycleSnapshotRecord, error) {
	var record CycleSnapshotRecord
	if result := r.db.Order("timestamp DESC").First(&record); result.Error != nil {
		return nil, fmt.Errorf("db: latest cycle: %w", result.Error)
	}
	return &record, nil
}

// CyclesByTimeRange retrieves every snapshot recorded within [start, end].
func (r *MySQLRecorder) CyclesByTimeRange(start, end time.Time) ([]CycleSnapshotRecord, error) {
	var records []CycleSnapshotRecord
	result := r.db.Where("timestamp BETWEEN ? AND ?", start, end).
		Order("timestamp ASC").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("db: cycles by time range: %w", result.Error)
	}
	return records, nil
}

// CountCycles returns the total number of recorded snapshots.
func (r *MySQLRecorder) CountCycles() (int64, error) {
	var count int64
	if result := r.db.Model(&CycleSnapshotRecord{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("db: count cycles: %w", result.Error)
	}
	return count, nil
}
