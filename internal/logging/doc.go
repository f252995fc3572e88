// Package logging sets up structured JSON logging for amanrag.
//
// Logs go to a size-rotated file under ~/.amanrag/logs/ and, outside of the
// stdio MCP server, are optionally mirrored to stderr.
package logging
