// Package hcl provides the HCL implementation of topology.Loader. It is
// responsible for file discovery, parsing, expression evaluation against the
// process environment and translation of source blocks into the topology
// tree.
package hcl
