// Package utils holds small helpers shared by the cache backends and the agent:
// stable hashing for storage file names and validation of version names.
package utils
