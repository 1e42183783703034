// Package uow provides a unit of work over the database package: one scoped
// session per business operation, committed or rolled back as a whole, with
// repositories resolved by name.
//
// # Registry
//
// Repositories are registered once, by name:
//
//	registry := uow.NewRegistry()
//	registry.MustRegister("orders", func(db database.Client) interface{} {
//	    return &OrderRepository{Repository: uow.NewRepository[Order](db)}
//	})
//	registry.Declare("invoices") // known name, factory added later
//
// # Running a unit of work
//
// Do begins a scope, runs the function and ends the scope. The session is
// committed when the function returns nil and rolled back otherwise:
//
//	work := uow.New(db, registry)
//	err := work.Do(ctx, func(ctx context.Context) error {
//	    orders, err := uow.Get[*OrderRepository](work, "orders")
//	    if err != nil {
//	        return err
//	    }
//	    return orders.Create(ctx, &Order{Status: "open"})
//	})
//
// Begin and End give the same guarantees for callers that need to manage the
// boundaries themselves:
//
//	ctx, err := work.Begin(ctx)
//	if err != nil {
//	    return err
//	}
//	err = doWork(ctx)
//	return errors.Join(err, work.End(err))
//
// With WithAutoCommit(false) nothing is committed unless Commit is called.
// With WithRaiseOnError(false) commit and rollback failures are logged instead
// of returned.
//
// # Repositories
//
// Repository[T] holds no session. Each method looks up the session bound to
// the context it receives, so repositories must be called with the context
// returned by Begin (or passed to the Do callback). Resolved repositories are
// cached for the lifetime of the UnitOfWork.
package uow
