package mbdump

import (
	"fmt"
	"os"
)

// Postgres carries the connection settings for psql invocations.
// The password travels through the environment only.
type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Env returns the process environment plus the PG* variables psql
// reads. When includeDatabase is false PGDATABASE is left out, which
// the provisioning path needs before the database exists.
func (p Postgres) Env(includeDatabase bool) []string {
	env := append(os.Environ(),
		fmt.Sprintf("PGHOST=%s", p.Host),
		fmt.Sprintf("PGPORT=%d", p.Port),
		fmt.Sprintf("PGUSER=%s", p.User),
		fmt.Sprintf("PGPASSWORD=%s", p.Password),
	)
	if includeDatabase {
		env = append(env, fmt.Sprintf("PGDATABASE=%s", p.Database))
	}
	return env
}
