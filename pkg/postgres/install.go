package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
)

// execSQLFunction runs whatever it is given as the function owner. Execute is revoked
// from public and granted to the service role only, if that role exists.
const execSQLFunction = `
create or replace function %[1]s.exec_sql(query text)
returns void
language plpgsql
security definer
set search_path = %[1]s
as $$
begin
  execute query;
end;
$$;

revoke all on function %[1]s.exec_sql(text) from public;

do $$
begin
  if exists (select 1 from pg_roles where rolname = 'service_role') then
    grant execute on function %[1]s.exec_sql(text) to service_role;
  end if;
end
$$;

notify pgrst, 'reload schema';
`

// InstallExecSQL creates the exec_sql function in the given schema, so migrations can
// subsequently be run over the HTTP API. It is safe to run repeatedly.
func (e *Executor) InstallExecSQL(ctx context.Context, schema string) error {
	if schema == "" {
		schema = "public"
	}

	e.logger.Log("event", "install_exec_sql", "schema", schema)
	if _, err := e.ExecSQL(ctx, fmt.Sprintf(execSQLFunction, pgx.Identifier{schema}.Sanitize())); err != nil {
		return errors.Wrap(err, "failed to install exec_sql")
	}

	return nil
}
