// Package saga runs multi-step creations across systems that share no
// transaction.
//
// Steps run in order. When one fails, every completed step is compensated in
// reverse order. Each compensation is retried with exponential backoff and
// runs on a context that is not cancelled with the request, so a client
// disconnect cannot interrupt a rollback halfway.
//
//	res := saga.New("create-account",
//		saga.Step{Name: "identity-created", Do: createIdentity, Compensate: deleteIdentity,
//			Resource: "identity", ResourceID: func() string { return id }},
//		saga.Step{Name: "profile-created", Do: insertProfile, Compensate: deleteProfile},
//	).Run(ctx)
//
//	switch res.Outcome {
//	case saga.OutcomeCompleted:
//	case saga.OutcomeRolledBack:       // res.Cause is the step error
//	case saga.OutcomeCompensationFailed: // res.Orphans lists leftovers
//	}
package saga
