// Package queue serializes inference requests onto a backend that can run
// only one generation at a time.
//
// # Overview
//
// A Coordinator owns the whole queue state: the active ticket, the ordered
// waiting list and the per-conversation index. Admission, promotion,
// cancellation and position reporting all read and write that one
// structure under one mutex, so the position a caller is told is the
// position it is promoted from.
//
//   - Ticket: one conversation's place in line
//   - Section: the exclusive right to run one inference, held by the
//     active ticket only
//   - Coordinator: admits, promotes in FIFO order, cancels
//
// # Example
//
//	ticket, pos, err := coord.Admit(chatID)
//	if err != nil {
//	    return err
//	}
//	section, err := coord.AwaitTurn(ctx, ticket)
//	if err != nil {
//	    return err
//	}
//	defer section.Release()
//	// run the inference
package queue
