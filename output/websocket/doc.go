// Package websocket serves the live alert feed.
//
// Hub is an http.Handler: mount it on a route and every upgraded connection
// receives a "snapshot" envelope listing the sensors currently alerting,
// followed by one "alert" envelope per alert transition passed to
// BroadcastAlert. Envelopes look like
//
//	{"type":"alert","id":"alert-feed-7","timestamp":1712586323171,"payload":{...AlertRecord...}}
//
// The feed is best effort: a client whose write fails is dropped, and
// nothing is replayed on reconnect beyond the snapshot.
package websocket
