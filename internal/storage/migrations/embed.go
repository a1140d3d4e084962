// Package migrations holds the embedded schema of the telemetry and model
// store backends.
package migrations

import "embed"

// PostgresFS holds device_shadow_history and model_artifacts DDL.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the device_telemetry table DDL.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
