// Package all links every storage backend into the binary.
package all

import (
	_ "transitsql/internal/storage/mssql"
	_ "transitsql/internal/storage/mysql"
	_ "transitsql/internal/storage/postgres"
	_ "transitsql/internal/storage/sqlite"
)
