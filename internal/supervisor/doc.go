// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

/*
Package supervisor provides process supervision for Fleet Rollout using suture v4.

The tree isolates failures by layer:

	RootSupervisor ("fleetrollout")
	├── CoreSupervisor ("core-layer")
	│   ├── StoreGCService
	│   └── audit.Forwarder (if NATS export is enabled)
	├── RolloutSupervisor ("rollout-layer")
	│   └── one rollout driver per active deployment
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A crashed driver is restarted with backoff and resumes from durable state.
Drivers that finish, or find their deployment leased by another process,
return suture.ErrDoNotRestart and leave the tree.

Supervisor events are logged through sutureslog, bridged to zerolog by
logging.NewSlogLogger:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	engine := rollout.New(cfg, st, dir, dispatcher, auditLogger, tree.Rollout())
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))
	return tree.Serve(ctx)
*/
package supervisor
