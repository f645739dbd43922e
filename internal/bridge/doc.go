// Package bridge runs synchronous device commands over a FrameTransport.
//
// A Session owns one exclusively acquired transport and allows a single
// outstanding request at a time. A nonzero device status is enriched by one
// get-last-error round trip before it is reported as a CommandFailedError.
package bridge
