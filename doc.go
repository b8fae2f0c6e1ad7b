// Package unidb is the shared vocabulary of a polyglot database access
// library: the universal value model, the ID strategies, the query
// condition model, the stable error taxonomy and the configuration surface.
//
// The heavy lifting lives in the sub-packages:
//
//   - pool: per-alias worker runtimes owning the backend connections, and
//     the manager registering them under aliases
//   - adapter: per-backend translation between abstract operations and
//     driver calls, plus the caching decorator
//   - dialect, dialect/sql: backend tags and the SQL statement builder
//   - cache: the optional two-tier read-through cache
//   - schema, schema/field, schema/index: declared schemas, inference from
//     first writes, and the version registry
//   - odm: the request-object front door and the foreign-call bridge
//
// Callers configure one or more aliases, register them with a pool
// manager, and route every operation through the odm package. Connections
// never leave their worker; results travel back on single-shot reply
// handles.
package unidb
