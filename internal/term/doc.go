// Package term supervises live-streamed work for chat front ends.
//
// A Session owns one child process. Its combined output is drained in the
// background into an accumulating line buffer and a "latest chunk" slot,
// and a polling caller learns about progress through a single-slot
// notification:
//
//	s, err := term.Execute("sh -c 'for i in 1 2 3; do echo $i; sleep 1; done'")
//	if err != nil {
//	    var spawnErr *term.SpawnError
//	    ... // binary missing, permission denied
//	}
//	_ = s.AwaitInitialized(ctx)
//	for !s.Finished() {
//	    s.AwaitUpdate(ctx, 3*time.Second)
//	    render(s.Tail(20))
//	}
//	final := s.Output()
//
// A Task offers the same contract for an in-process function that writes
// to an explicit io.Writer sink.
//
// # Notification
//
// Only one caller may wait at a time. A notification that fires while
// nobody waits stays pending until the next AwaitUpdate consumes it;
// further notifications replace it instead of queueing.
//
// # Cancellation
//
// Cancel flips the cancelled flag immediately and asks the Terminator to
// kill the whole process tree. The session reaches Finished only after the
// OS has reaped the process and the output pipe hit end-of-stream, so
// callers that need the process gone must keep waiting for Finished.
//
// On platforms without process groups only the direct child is killed;
// descendants it spawned may survive.
package term
