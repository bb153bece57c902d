/*
Package events provides an in-process publish/subscribe broker for
remediation lifecycle events.

The closed-loop worker and the policy store publish; the API layer
subscribes to stream events to clients. Distribution is best effort: a
subscriber that cannot keep up misses events rather than blocking the
publisher.
*/
package events
