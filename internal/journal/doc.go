// Package journal records what the board did: every refresh attempt and
// every acknowledgement toggle. It is an audit trail only; nothing in it is
// read back into the live registry.
package journal
