// Package queue provides the durable message queue that drives the agent
// pipeline.
//
// # Overview
//
// Every message is persisted to the backing log before any listener sees
// it, then dispatched to the handlers registered for its type. Messages
// in the same conversation are processed strictly one at a time, in send
// order; messages in different conversations run concurrently.
//
// # Ordering
//
// Each conversation owns a lane: a pending list drained by a single
// goroutine. A handler for message N always returns before message N+1
// is dispatched, so handlers can emit follow-up messages without racing
// their own conversation. Lanes are independent, so a handler blocked in
// one conversation (for example, waiting on a slow tool) never delays
// another.
//
// # Delivery
//
// Delivery is at-least-once. A message's handled flag is flipped only
// after every registered handler has run; if the process dies in
// between, Start replays the message to all handlers on the next boot:
//
//	q := queue.New(log, logger)
//	q.On(message.TypeTurn, agent.HandleTurn)
//	if err := q.Start(ctx); err != nil { ... }
//
// Handlers must therefore tolerate re-delivery. Handler errors and
// panics are logged and do not wedge the lane: the message is still
// marked handled and the conversation moves on.
//
// # Shutdown
//
// Wait blocks until every in-flight message has been processed:
//
//	<-ctx.Done()
//	q.Wait()
package queue
