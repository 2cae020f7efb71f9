package testhelper

import (
	"context"
	"testing"
)

func TestSetupTestDB_Smoke(t *testing.T) {
	pool := SetupTestDB(t)

	donor := SeedDonor(t, pool, ONeg, nil)

	var bloodType int
	err := pool.QueryRow(
		context.Background(),
		`SELECT blood_type_id FROM donors WHERE id = $1`,
		donor.ID,
	).Scan(&bloodType)
	if err != nil {
		t.Fatalf("expected donor in DB, got error: %v", err)
	}

	if bloodType != ONeg {
		t.Fatalf("expected blood type %d, got %d", ONeg, bloodType)
	}
}
