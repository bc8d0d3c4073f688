// Package router connects the process to the pub/sub broker and routes
// incoming messages to handlers by channel.
//
// A single goroutine owns the broker stream. When the stream dies the router
// reconnects with capped exponential backoff plus jitter and replays every
// subscription before processing resumes, so registered handlers never need
// to care about broker availability. Publishing is fire and forget.
package router
