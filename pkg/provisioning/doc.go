// Package provisioning runs the multi-step creation flows on top of package
// saga.
//
// Account creation:
//
//	identity-created   identity.Provider.CreateIdentity   undo: DeleteIdentity
//	profile-created    accounts.Repository.Create         undo: Repository.Delete
//	managers-assigned  assign_user_store_managers
//
// Store creation:
//
//	store-created      stores.Repository.Create           undo: Repository.Delete
//	managers-assigned  assign_store_managers
//
// A failed step rolls back the completed ones. A clean rollback returns the
// step's Conflict or Validation error unchanged and anything else as a 500
// that says the work was rolled back. If a compensation still fails after
// its retries, each orphan is logged at CRITICAL and the caller gets an
// apperr.KindSagaCompensationFailure carrying the orphan ids.
package provisioning
