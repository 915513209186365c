// Package binding keeps template fields bound to live evaluated results.
//
// An owner declares a set of fields. Fields whose raw value is a template
// are subscribed on an Evaluator when the owner attaches and released when
// it detaches. Results land in a per-owner Store; when evaluation fails the
// raw value is published instead so the owner always has something to show.
//
// # Owners
//
// Each owner has its own Binder. Binders share the Evaluator but nothing
// else:
//
//	mgr := binding.NewManager(client, binding.Config{Logger: logger})
//	mgr.Attach(ctx, "card-1", []binding.Field{
//	    {Key: "title", Raw: "{{ states('sensor.outside') }} °C"},
//	    {Key: "icon", Raw: "mdi:thermometer"},
//	})
//	defer mgr.Detach(ctx, "card-1")
//
// # Lifecycle
//
// Attach reserves each template key synchronously and subscribes in the
// background; it never waits for results. A key is subscribed at most once
// until it is released, fails, or the owner detaches. Detach waits for
// pending subscribes, cancels every handle exactly once and empties the
// registry. Attach called while a detach is draining waits for it.
//
// Failed keys leave the registry, so the next Attach (or Retry) subscribes
// them again.
package binding
