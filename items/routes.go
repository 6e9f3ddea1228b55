// Package items wires the item routes on both sides of the connection:
// Handlers serves them from a repository, Requester calls them through the
// shared client.
package items

// Namespace is the part of every item route before the '.'; responders
// register it for discovery.
const Namespace = "newItems"

const (
	RouteRequestResponse = Namespace + ".request-response"
	RouteRequestStream   = Namespace + ".request-stream"
	RouteFireAndForget   = Namespace + ".fire-and-forget"
	RouteMonitor         = Namespace + ".monitor"
)
