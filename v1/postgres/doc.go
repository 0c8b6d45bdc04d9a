// Package postgres provides a gorm-backed PostgreSQL client with health
// monitoring and automatic reconnection.
//
// The bridge uses it to persist task lifecycle events (see
// v1/tasklog/store). The client keeps the active *gorm.DB in an atomic
// pointer: MonitorConnection pings periodically and RetryConnection swaps
// in a fresh connection when a ping fails, without blocking readers.
//
// Basic usage:
//
//	pg, err := postgres.NewPostgres(postgres.Config{
//		Connection: postgres.Connection{
//			Host:     "localhost",
//			Port:     "5432",
//			User:     "rpc",
//			Password: "secret",
//			DbName:   "rpc",
//		},
//	})
//	if err != nil {
//		return err
//	}
//	defer pg.GracefulShutdown()
//
//	if err := pg.Migrate(&store.TaskLog{}); err != nil {
//		return err
//	}
//
// Errors from CRUD and query methods are passed through TranslateError, so
// callers can match ErrRecordNotFound, ErrDuplicateKey and friends with
// errors.Is regardless of whether they came from gorm or the pgx driver.
//
// With fx, include FXModule and provide a Config; the module exposes both
// *Postgres and the Client interface.
package postgres
