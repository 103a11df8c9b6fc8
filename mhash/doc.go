// Package mhash maps 64-bit RIDs to 32-bit index-node values in a
// fixed-header, linear-probed disk table.
package mhash
