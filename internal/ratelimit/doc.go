// Package ratelimit bounds the request rate of each host.
//
// Every budget key (usually a hostname) owns a sliding-window grant log:
// a request is granted at time t only when fewer than Limit grants happened
// in (t-Window, t]. This bounds the count in every window of that length,
// not only in aligned ones. Waiters are served strictly in arrival order and
// hosts never wait on each other.
package ratelimit
