// Package transport owns the framed byte-stream link to a device.
//
// Ownership boundary:
// - exclusive device acquisition (DeviceLock)
// - background frame reception into a type-keyed Mailbox
// - the FrameTransport contract consumed by the bridge
package transport
