// Package fio provides a cooperative-fiber runtime for deferred
// computations. An IO value describes asynchronous work without
// executing it; composition builds larger descriptions, and nothing
// runs until a description is handed to a Runtime.
//
// Key components:
//
//   - IO: The core abstraction, an immutable description of deferred
//     work. IOs compose with Map, FlatMap, error handlers, timers and
//     concurrency primitives, and only execute when run.
//
//   - Fiber: One in-flight execution of an IO, cooperatively
//     scheduled. Fibers are started with Start or Spawn, observed
//     through Join, and cooperatively canceled through Cancel.
//
//   - Runtime: Bundles an Executor and a Timer and drives fibers to a
//     terminal Outcome through the RunSync, RunAsync and Spawn entry
//     points.
//
//   - Executor/Timer: Interfaces for submitting units of work and for
//     scheduling delayed callbacks. PoolExecutor, GoExecutor and
//     StdTimer are the provided adapters.
//
//   - Combinators: Race, EvalOn, Sleep, Timeout, Async and friends,
//     built on the fiber primitives.
//
//   - Synchronization primitives: Semaphore, Mutex, WaitGroup, Group
//     and Memoize for coordination between fibers.
package fio
