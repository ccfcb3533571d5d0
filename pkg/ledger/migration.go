package ledger

import (
	"context"
	"fmt"

	database "cloud.google.com/go/spanner/admin/database/apiv1"
	"cloud.google.com/go/spanner/admin/database/apiv1/databasepb"
)

// RunMigrations creates the ledger table and its state index.
// It is idempotent and can be safely called multiple times.
func (s *SpannerLedger) RunMigrations(ctx context.Context) error {
	databaseAdminClient, err := database.NewDatabaseAdminClient(ctx)
	if err != nil {
		return err
	}
	defer databaseAdminClient.Close()

	tableStmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
		%[2]s STRING(MAX) NOT NULL,
		%[3]s STRING(MAX) NOT NULL,
		%[4]s STRING(MAX) NOT NULL,
		%[5]s INT64 NOT NULL,
		%[6]s INT64 NOT NULL,
		%[7]s INT64 NOT NULL,
		%[8]s INT64 NOT NULL,
		%[9]s STRING(MAX) NOT NULL,
		%[10]s STRING(MAX) NOT NULL,
		%[11]s TIMESTAMP NOT NULL OPTIONS (allow_commit_timestamp=true),
		%[12]s TIMESTAMP OPTIONS (allow_commit_timestamp=true),
		%[13]s TIMESTAMP NOT NULL OPTIONS (allow_commit_timestamp=true),
		) PRIMARY KEY (%[2]s)`,
		s.tableName,
		columnDestination,
		columnJobID,
		columnScheme,
		columnYear,
		columnMonth,
		columnGram,
		columnShard,
		columnState,
		columnDetail,
		columnSubmittedAt,
		columnFinishedAt,
		columnUpdatedAt,
	)

	stateIndexStmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_%[2]s_idx ON %[1]s(%[2]s) STORING (%[3]s, %[4]s)`,
		s.tableName, columnState, columnJobID, columnSubmittedAt)

	req := &databasepb.UpdateDatabaseDdlRequest{
		Database:   s.client.DatabaseName(),
		Statements: []string{tableStmt, stateIndexStmt},
	}
	op, err := databaseAdminClient.UpdateDatabaseDdl(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to update ledger ddl: %w", err)
	}

	if err := op.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for ledger ddl: %w", err)
	}

	return nil
}
