/*
Package api is the in-process query surface consumed by a serving layer.

The wire protocol (REST, gRPC) is an external collaborator; this package
defines what it can ask: Count, Query, Get and Describe, addressed by
cache labels, with queries arriving as the JSON grammar of
pkg/expression. Responses carry internal id and version alongside each
record so downstream consumers can expose stable identity.
*/
package api
