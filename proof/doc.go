// Package proof defines the zero-knowledge proof collaborator boundary. The
// messaging core only ever generates and verifies opaque proof blobs at the
// message-authentication boundary; circuit design and real proving backends
// live outside this module. HMACService is a shared-secret stand-in that
// makes the boundary executable in tests and closed deployments.
package proof
