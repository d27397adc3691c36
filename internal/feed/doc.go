// Package feed binds the REST client, the realtime connection and the
// dispatcher to the store.
//
// Service methods fetch or write through the API and record the outcome in
// the store, including loading flags and errors. Realtime events reach the
// store through the listeners SubscribeToMatch, OnNewMatch and
// WatchConnection register. Poller refreshes the store periodically and,
// when enabled, after every reconnect, since events sent while disconnected
// are not replayed by the server.
package feed
