// Package resource provides a generic handle table.
//
// Native code cannot hold Go pointers across calls. Host state that must be
// reachable from a native callback is stored in a Table and the native side
// is given the Handle, an integer it passes back verbatim.
//
//	table := resource.NewTable[*pollState]()
//
//	h := table.Insert(state)
//	state, ok := table.Get(h)   // from the callback
//	...
//	table.Remove(h)             // once the callback can no longer fire
//
// Handle 0 is never issued, so a zeroed handle is always invalid. Slots are
// reused but each reuse bumps a generation counter stored in the handle, so a
// late callback carrying an old handle finds nothing instead of someone
// else's state.
//
// # Observers
//
// Observers see every insert and remove. They are invoked with no table
// lock held and may call back into the table, including the cancel func
// Subscribe returned:
//
//	cancel := table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("handle %d %s", e.Handle, e.Type)
//	}))
//	defer cancel()
//
// # Memory Management
//
// Values are not garbage collected while they sit in the table. Remove them
// explicitly. Values that implement Dropper have Drop called when they
// leave.
package resource
