// Package memory provides typed object pools for the high-throughput
// ingestion path. Objects handed back to a pool are reset first so no
// state leaks into the next user.
package memory
